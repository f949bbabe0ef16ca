// Command ringrecover is the CLI entry point for the recovery engine:
// `ringrecover merge` reconciles ranges within one ring, `ringrecover dc`
// reconciles replicas across rings. Structured after
// sakateka-yanet2/coordinator/cmd/coordinator/main.go — a cobra root
// command, flags bound onto its own FlagSet, a zap logger, and an
// errgroup-style run/interrupt split — adapted from one long-running
// daemon to one recovery invocation that exits when its work is done.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ringkv/ringstore/blob"
	"github.com/ringkv/ringstore/recovery"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ringrecover",
		Short: "cross-replica recovery driver for the ring",
	}
	root.AddCommand(newRecoverCmd("merge"))
	root.AddCommand(newRecoverCmd("dc"))
	return root
}

// The --routes and --data-root flags are not part of spec.md §6's flag table: the
// route table's real source is the ring's bootstrap protocol, which §1
// explicitly places out of scope. This binary resolves routes from a flat
// text file (one "rangeStartHex address groupID" row per line) and
// resolves each address to a local directory, so the CLI is fully
// runnable against same-host data directories without a wire transport.
func newRecoverCmd(mode string) *cobra.Command {
	var routesPath string
	var dataRoot string
	rctx := &recovery.Context{}

	cmd := &cobra.Command{
		Use:   mode,
		Short: fmt.Sprintf("run %s recovery", mode),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rctx.Finalize(); err != nil {
				return err
			}
			return runRecovery(cmd.Context(), mode, rctx, routesPath, dataRoot)
		},
	}

	recovery.BindFlags(cmd.Flags(), rctx)
	rctx.Mode = mode
	cmd.Flags().StringVar(&routesPath, "routes", "", "path to a route-table file (required)")
	cmd.Flags().StringVar(&dataRoot, "data-root", "", "directory holding one subdirectory per node address (required)")
	cmd.MarkFlagRequired("routes")
	cmd.MarkFlagRequired("data-root")

	return cmd
}

func runRecovery(ctx context.Context, mode string, rctx *recovery.Context, routesPath, dataRoot string) error {
	routes, addrs, err := loadRouteTable(routesPath)
	if err != nil {
		return err
	}

	if err := rctx.Open(routes); err != nil {
		return err
	}
	defer rctx.Close()

	nodes := map[string]*blob.DB{}
	for _, addr := range addrs {
		dir := dataDir(dataRoot, addr)
		db, err := blob.Open(dir, blob.Config{})
		if err != nil {
			return fmt.Errorf("opening node %q at %q: %w", addr, dir, err)
		}
		defer db.Close()
		nodes[addr] = db
	}
	client := recovery.NewMemNodeClient(nodes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			cancel()
		case <-runCtx.Done():
		}
	}()

	pool := recovery.NewWorkerPool(rctx.NProcess, rctx.TmpDirTmpl, rctx.Log)

	var failed bool
	switch mode {
	case "merge":
		mc := recovery.NewMergeCoordinator(rctx, client, rctx.BootstrapAddr)
		results, err := mc.Run(runCtx, pool)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.State == recovery.StateFailed {
				failed = true
			}
		}
	case "dc":
		dc := recovery.NewDcCoordinator(rctx, client)
		results, err := dc.Run(runCtx, pool)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.State == recovery.StateFailed {
				failed = true
			}
		}
	}

	// spec.md §4.6: a stats.txt snapshot is written at shutdown regardless
	// of -s, which only controls whether the CLI also echoes it to stdout.
	if err := os.MkdirAll(rctx.TmpDirTmpl, 0o755); err != nil {
		return fmt.Errorf("creating scratch dir for stats.txt: %w", err)
	}
	statsPath := filepath.Join(rctx.TmpDirTmpl, "stats.txt")
	if err := os.WriteFile(statsPath, []byte(rctx.Monitor.Snapshot()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", statsPath, err)
	}
	if rctx.StatsFormat == "text" {
		fmt.Print(rctx.Monitor.Snapshot())
	}
	if rctx.PauseAtExit {
		fmt.Fprintln(os.Stderr, "press enter to exit...")
		bufio.NewReader(os.Stdin).ReadString('\n')
	}

	if failed {
		return fmt.Errorf("recovery completed with failed work units")
	}
	return nil
}

// dataDir maps a node address to its on-disk directory under root. Colons
// in host:port:family addresses can't appear in a path component on every
// platform, so they're replaced.
func dataDir(root, addr string) string {
	return root + "/" + strings.NewReplacer(":", "_").Replace(addr)
}

// loadRouteTable parses the --routes file: one "rangeStartHex address
// groupID" row per line, blank lines and "#"-prefixed lines ignored.
func loadRouteTable(path string) (*recovery.RouteTable, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening routes file: %w", err)
	}
	defer f.Close()

	var entries []recovery.RouteEntry
	seen := map[string]bool{}
	var addrs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, nil, fmt.Errorf("routes file: malformed line %q", line)
		}
		id, err := parseIdentifierHex(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("routes file: %w", err)
		}
		group, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("routes file: invalid group %q", fields[2])
		}
		entries = append(entries, recovery.RouteEntry{RangeStart: id, Address: fields[1], GroupID: uint32(group)})
		if !seen[fields[1]] {
			seen[fields[1]] = true
			addrs = append(addrs, fields[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading routes file: %w", err)
	}

	return recovery.NewRouteTable(entries), addrs, nil
}

func parseIdentifierHex(s string) (blob.Identifier, error) {
	var id blob.Identifier
	s = strings.TrimPrefix(s, "0x")
	if len(s) > 2*blob.IdLen {
		return id, fmt.Errorf("identifier %q longer than %d bytes", s, blob.IdLen)
	}
	s = strings.Repeat("0", 2*blob.IdLen-len(s)) + s
	for i := 0; i < blob.IdLen; i++ {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return id, fmt.Errorf("invalid identifier hex %q: %w", s, err)
		}
		id[i] = byte(b)
	}
	return id, nil
}
