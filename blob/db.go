// DB ties the two AppendLogs and the Index together and exposes the
// CommandHandler dispatch the wire transport calls into. Mirrors the
// teacher's DB lifecycle (jpl-au-folio/db.go: Open validates/defaults
// Config, opens file handles, rebuilds state, Close tears it all down) —
// generalized from a single JSON-line file to the spec's two-log binary
// layout.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const (
	dataFileName    = "data.log"
	historyFileName = "history.log"
)

// Config holds backend configuration. Open applies no defaults: a
// zero-value Config means no padding on either log, no MetaProcessor and
// the built-in STAT snapshot.
type Config struct {
	// DataBlockSize and HistoryBlockSize are the alignment block sizes for
	// each log. 0 disables padding for that log.
	DataBlockSize    int
	HistoryBlockSize int

	// MetaProcessor transforms history chains on update. Nil means
	// "append the new blob unchanged".
	MetaProcessor MetaProcessor

	// StatFunc backs the STAT command. Nil means STAT returns a built-in
	// snapshot of both log tails and the index's key count.
	StatFunc func() (Stat, error)
}

// DB is an open backend instance: two logs, one index, one Config.
type DB struct {
	dir     string
	data    *appendLog
	history *appendLog
	index   *Index
	cfg     Config
	writeMu sync.Mutex // serializes the backend's one write path across data+history+index
	closed  atomic.Bool
}

// Open opens or creates the two log files under dir and rebuilds the
// Index by scanning each from offset 0. Scanning order does not matter for
// correctness: each Key carries its own Kind, so data and history entries
// never collide in the Index.
func Open(dir string, cfg Config) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %v", ErrIO, err)
	}

	dataFile, err := os.OpenFile(filepath.Join(dir, dataFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data log: %v", ErrIO, err)
	}
	historyFile, err := os.OpenFile(filepath.Join(dir, historyFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("%w: open history log: %v", ErrIO, err)
	}

	index := NewIndex()
	dataTail, err := rebuild(dataFile, KindData, cfg.DataBlockSize, index)
	if err != nil {
		dataFile.Close()
		historyFile.Close()
		return nil, fmt.Errorf("%w: rebuild data index: %v", ErrIO, err)
	}
	historyTail, err := rebuild(historyFile, KindHistory, cfg.HistoryBlockSize, index)
	if err != nil {
		dataFile.Close()
		historyFile.Close()
		return nil, fmt.Errorf("%w: rebuild history index: %v", ErrIO, err)
	}

	data, err := openAppendLog(dataFile, cfg.DataBlockSize)
	if err != nil {
		dataFile.Close()
		historyFile.Close()
		return nil, err
	}
	history, err := openAppendLog(historyFile, cfg.HistoryBlockSize)
	if err != nil {
		dataFile.Close()
		historyFile.Close()
		return nil, err
	}
	data.tail = dataTail
	history.tail = historyTail

	return &DB{
		dir:     dir,
		data:    data,
		history: history,
		index:   index,
		cfg:     cfg,
	}, nil
}

// Close releases both file handles. A closed DB rejects further commands
// with ErrClosed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	errData := db.data.Close()
	errHistory := db.history.Close()
	if errData != nil {
		return errData
	}
	return errHistory
}

// Stat summarizes backend state for the STAT command.
type Stat struct {
	DataTail    int64
	HistoryTail int64
	Keys        int
}

func (db *DB) logFor(kind Kind) *appendLog {
	if kind == KindHistory {
		return db.history
	}
	return db.data
}
