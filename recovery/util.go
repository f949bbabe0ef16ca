package recovery

import (
	"iter"
	"time"
)

// timeNow is the single seam recovering "now" for -t resolution, in Unix
// seconds — the unit ParseTimeSpec's relative (12h/1d/4w) and bare-epoch
// forms are both expressed in — so coordinators never call time.Now()
// directly. ParseTimeSpec converts its result to milliseconds before
// returning, matching Record.Timestamp's unit (blob's nowMillis).
func timeNow() int64 { return time.Now().Unix() }

// collect drains an iter.Seq2 stream into a slice, stopping at the first
// error.
func collect(seq iter.Seq2[Record, error]) ([]Record, error) {
	var out []Record
	var streamErr error
	seq(func(r Record, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		out = append(out, r)
		return true
	})
	return out, streamErr
}
