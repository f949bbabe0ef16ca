// Context holds one CLI invocation's parsed configuration and shared
// handles (spec.md §2/§3: "a recovery Context is created per CLI
// invocation and torn down on exit"). Flag parsing follows
// calvinalkan-agent-task/internal/cli/command.go's pflag.FlagSet pattern —
// a getopt-style single-dash surface, discarding pflag's own usage output
// in favor of the caller's error handling.
package recovery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context is the parsed form of spec.md §6's CLI surface plus the shared
// handles built from it (route table, monitor, lock, logger). One Context
// is built per ringrecover invocation and Closed on exit.
type Context struct {
	Mode string // "merge" or "dc"

	BootstrapAddr string   // -r
	GroupsRaw     []string // -g, converted to Groups by ParseArgs
	Groups        []uint32
	BatchSize     int    // -b
	NProcess      int    // -n
	SinceSpec     string // -t, resolved lazily via Since
	TmpDirTmpl    string // -D
	LockFilePath  string // -k
	LogFilePath   string // -l
	LogLevel      string // -L
	DryRun        bool   // -N
	Safe          bool   // -S
	StatsFormat   string // -s: "text" or "none"
	MonitorPort   int    // -m
	WaitTimeout   int    // -w, seconds
	Debug         bool   // -d
	PauseAtExit   bool   // -e

	Routes  *RouteTable
	Monitor *Monitor
	Log     *zap.SugaredLogger

	lock *runLock
}

// newFlagSet builds the pflag.FlagSet for spec.md §6's flag table, bound
// into dst.
func newFlagSet(dst *Context) *flag.FlagSet {
	fs := flag.NewFlagSet("ringrecover", flag.ContinueOnError)
	BindFlags(fs, dst)
	return fs
}

// BindFlags registers spec.md §6's flag table onto fs, storing results in
// dst. Exported so cmd/ringrecover can bind the same flags onto a cobra
// command's own FlagSet instead of parsing a second, independent one.
func BindFlags(fs *flag.FlagSet, dst *Context) {
	fs.StringVarP(&dst.BootstrapAddr, "bootstrap", "r", "", "bootstrap node (host:port:family)")
	fs.StringSliceVarP(&dst.GroupsRaw, "groups", "g", nil, "restrict to these groups")
	fs.IntVarP(&dst.BatchSize, "batch-size", "b", 1024, "batch size for bulk ops")
	fs.IntVarP(&dst.NProcess, "nprocess", "n", 1, "worker count")
	fs.StringVarP(&dst.SinceSpec, "since", "t", "", "min timestamp (epoch seconds or 12h/1d/4w)")
	fs.StringVarP(&dst.TmpDirTmpl, "tmp-dir", "D", "/tmp/ringrecover-%TYPE%", "scratch dir; %TYPE% substituted")
	fs.StringVarP(&dst.LockFilePath, "lockfile", "k", "", "advisory lockfile path")
	fs.StringVarP(&dst.LogFilePath, "log-file", "l", "", "library log path")
	fs.StringVarP(&dst.LogLevel, "log-level", "L", "info", "library log verbosity")
	fs.BoolVarP(&dst.DryRun, "dry-run", "N", false, "dry-run (diff only)")
	fs.BoolVarP(&dst.Safe, "safe", "S", false, "safe mode: no source deletion after merge")
	fs.StringVarP(&dst.StatsFormat, "stats", "s", "text", "stats output format: text|none")
	fs.IntVarP(&dst.MonitorPort, "monitor-port", "m", 0, "monitor HTTP port (0 disables)")
	fs.IntVarP(&dst.WaitTimeout, "wait-timeout", "w", 30, "per-operation wait timeout (seconds)")
	fs.BoolVarP(&dst.Debug, "debug", "d", false, "debug logging")
	fs.BoolVarP(&dst.PauseAtExit, "pause", "e", false, "pause for user input at exit")
}

// ParseArgs parses mode ("merge" or "dc") and the flag table from args,
// populating a new Context. It does not build Routes/Monitor/Log/lock —
// call Open for that once the route table is available.
func ParseArgs(mode string, args []string) (*Context, error) {
	if mode != "merge" && mode != "dc" {
		return nil, ErrUnknownMode
	}
	ctx := &Context{Mode: mode}
	fs := newFlagSet(ctx)
	fs.SetOutput(discardWriter{})
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	if err := ctx.Finalize(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Finalize converts GroupsRaw (as parsed by either ParseArgs or a cobra
// command sharing BindFlags) into Groups and validates the result. Callers
// that bind flags directly onto a cobra FlagSet call this once after
// Execute instead of ParseArgs.
func (c *Context) Finalize() error {
	c.Groups = nil
	for _, s := range c.GroupsRaw {
		g, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid group id %q", ErrFatal, s)
		}
		c.Groups = append(c.Groups, uint32(g))
	}
	return c.validate()
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *Context) validate() error {
	if c.BootstrapAddr == "" {
		return fmt.Errorf("%w: -r bootstrap node is required", ErrFatal)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: -b batch size must be positive", ErrFatal)
	}
	if c.StatsFormat != "text" && c.StatsFormat != "none" {
		return fmt.Errorf("%w: -s must be \"text\" or \"none\"", ErrFatal)
	}
	return nil
}

// Open finishes building the Context: takes the advisory lock, resolves
// the scratch directory, sweeps stale scratch files, builds the logger,
// and starts the monitor's optional HTTP endpoint.
func (c *Context) Open(routes *RouteTable) error {
	c.Routes = routes

	if c.LockFilePath != "" {
		l, err := acquireLock(c.LockFilePath)
		if err != nil {
			return err
		}
		c.lock = l
	}

	recType := TypeMerge
	if c.Mode == "dc" {
		recType = TypeDC
	}
	dir := scratchDir(c.TmpDirTmpl, recType)
	if err := sweepScratch(dir); err != nil {
		return err
	}
	c.TmpDirTmpl = dir

	var level zapcore.Level
	if c.LogLevel != "" {
		if err := level.Set(c.LogLevel); err != nil {
			return fmt.Errorf("%w: invalid -L log level %q: %v", ErrFatal, c.LogLevel, err)
		}
	}
	if c.Debug {
		level = zap.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if c.LogFilePath != "" {
		zcfg.OutputPaths = []string{c.LogFilePath}
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("%w: building logger: %v", ErrFatal, err)
	}
	c.Log = logger.Sugar()

	c.Monitor = NewMonitor(c.MonitorPort)
	if err := c.Monitor.Start(); err != nil {
		return fmt.Errorf("%w: starting monitor: %v", ErrFatal, err)
	}

	return nil
}

// Since resolves the -t flag against now (Unix seconds), returning a cutoff
// in Unix milliseconds ready to compare against Record.Timestamp.
func (c *Context) Since(now int64) (int64, error) {
	return ParseTimeSpec(c.SinceSpec, now)
}

// Close releases everything Open acquired: the monitor's HTTP endpoint,
// the advisory lock, and the logger's buffered output.
func (c *Context) Close() error {
	var firstErr error
	if c.Monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Monitor.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if c.lock != nil {
		if err := c.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Log != nil {
		_ = c.Log.Sync()
	}
	return firstErr
}
