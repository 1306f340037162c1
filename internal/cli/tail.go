package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bitdabbler/cwlogs/localstore"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// tailConfig holds the resolved `tail` flags.
type tailConfig struct {
	dataDir  string
	group    string
	streams  []string
	follow   bool
	interval time.Duration
	limit    int
	verbose  bool
}

// newTailCommand constructs the `tail` subcommand.
func newTailCommand() *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events from a local store",
		Long: `Prints the events of a local store (--transport local) in append order,
one line per event. With several streams, lines are prefixed with the
stream name. The store cannot be open in another process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg tailConfig
			cfg.dataDir, _ = cmd.Flags().GetString("data-dir")
			cfg.group, _ = cmd.Flags().GetString("group")
			cfg.streams, _ = cmd.Flags().GetStringSlice("stream")
			cfg.follow, _ = cmd.Flags().GetBool("follow")
			cfg.interval, _ = cmd.Flags().GetDuration("interval")
			cfg.limit, _ = cmd.Flags().GetInt("limit")
			cfg.verbose, _ = cmd.Flags().GetBool("verbose")

			if cfg.dataDir == "" || cfg.group == "" {
				return errors.New("--data-dir and --group are required")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runTail(ctx, cfg, cmd.OutOrStdout())
		},
	}

	tailCmd.Flags().String("data-dir", envString("CWSHIP_DATA_DIR", ""), "Store directory (required)")
	tailCmd.Flags().String("group", envString("CWSHIP_GROUP", ""), "Log group name (required)")
	tailCmd.Flags().StringSlice("stream", nil, "Log stream(s) to print (default all streams of the group)")
	tailCmd.Flags().BoolP("follow", "f", false, "Keep polling for new events")
	tailCmd.Flags().Duration("interval", time.Second, "Polling interval with --follow")
	tailCmd.Flags().Int("limit", 0, "Print at most this many events per stream, then stop (0 = no limit)")

	return tailCmd
}

// runTail prints the selected streams, each polled by its own goroutine.
func runTail(ctx context.Context, cfg tailConfig, out io.Writer) error {
	s, err := localstore.Open(&localstore.Options{DataDir: cfg.dataDir, Verbose: cfg.verbose})
	if err != nil {
		return err
	}
	defer s.Close()

	streams := cfg.streams
	if len(streams) == 0 {
		if streams, err = s.Streams(cfg.group); err != nil {
			return err
		}
	}
	if len(streams) == 0 {
		return fmt.Errorf("no streams in group %q", cfg.group)
	}

	var mu sync.Mutex
	emit := func(stream string, r localstore.Record) {
		mu.Lock()
		defer mu.Unlock()
		ts := time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339Nano)
		if len(streams) > 1 {
			fmt.Fprintf(out, "%s %s %s\n", stream, ts, r.Message)
			return
		}
		fmt.Fprintf(out, "%s %s\n", ts, r.Message)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range streams {
		stream := stream
		g.Go(func() error {
			return tailStream(gctx, s, cfg, stream, emit)
		})
	}
	return g.Wait()
}

func tailStream(ctx context.Context, s *localstore.Store, cfg tailConfig, stream string, emit func(string, localstore.Record)) error {
	var after uint64
	printed := 0

	for {
		opts := localstore.ReadOptions{After: after}
		if cfg.limit > 0 {
			opts.Limit = cfg.limit - printed
		}
		recs, err := s.Events(cfg.group, stream, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", stream, err)
		}
		for _, r := range recs {
			emit(stream, r)
			after = r.Seq
		}
		printed += len(recs)

		if !cfg.follow || (cfg.limit > 0 && printed >= cfg.limit) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.interval):
		}
	}
}
