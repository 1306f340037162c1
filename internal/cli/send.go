package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bitdabbler/cwlogs"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// sendConfig holds the resolved `send` flags.
type sendConfig struct {
	group           string
	stream          string
	route           string
	tee             bool
	linger          time.Duration
	shutdownTimeout time.Duration
	verbose         bool
	transport       transportConfig
}

// newSendCommand constructs the `send` subcommand.
func newSendCommand() *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Append lines from stdin to log streams",
		Long: `Reads stdin line by line and appends each line as one log event.

Lines go to --stream unless --route is set: a CEL expression that picks the
stream per line. For lines that are JSON objects, the "level" field sets
level/severity and top-level fields are visible as attrs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg sendConfig
			cfg.group, _ = cmd.Flags().GetString("group")
			cfg.stream, _ = cmd.Flags().GetString("stream")
			cfg.route, _ = cmd.Flags().GetString("route")
			cfg.tee, _ = cmd.Flags().GetBool("tee")
			cfg.linger, _ = cmd.Flags().GetDuration("linger")
			cfg.shutdownTimeout, _ = cmd.Flags().GetDuration("shutdown-timeout")
			cfg.verbose, _ = cmd.Flags().GetBool("verbose")
			cfg.transport = transportConfigFromFlags(cmd)

			if cfg.group == "" {
				return errors.New("--group is required")
			}
			if cfg.stream == "" {
				cfg.stream = defaultStreamName()
			}

			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				fmt.Fprintln(cmd.ErrOrStderr(), "reading log lines from the terminal; end with Ctrl-D")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runSend(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	sendCmd.Flags().String("group", envString("CWSHIP_GROUP", ""), "Log group name (required)")
	sendCmd.Flags().String("stream", envString("CWSHIP_STREAM", ""), "Default log stream name (default <hostname>-<uuid>)")
	sendCmd.Flags().String("route", envString("CWSHIP_ROUTE", ""), "CEL expression choosing the stream per line")
	sendCmd.Flags().Bool("tee", envBool("CWSHIP_TEE"), "Copy stdin to stdout")
	sendCmd.Flags().Duration("linger", envDuration("CWSHIP_LINGER", 0), "Wait this long for more lines before sending a partial batch")
	sendCmd.Flags().Duration("shutdown-timeout", envDuration("CWSHIP_SHUTDOWN_TIMEOUT", time.Second*30), "Time allowed to flush queued lines on exit")
	addTransportFlags(sendCmd)

	return sendCmd
}

func defaultStreamName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "cwship"
	}
	return host + "-" + uuid.NewString()
}

// runSend ships the lines of in until EOF or ctx ends, then drains the
// Writer.
func runSend(ctx context.Context, cfg sendConfig, in io.Reader, out io.Writer) (err error) {
	tr, release, err := openTransport(ctx, cfg.transport)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, release()) }()

	opts := &cwlogs.Options{
		Transport: tr,
		Linger:    cfg.linger,
		Verbose:   cfg.verbose,
	}
	if cfg.route != "" {
		if opts.Classifier, err = cwlogs.NewCELClassifier(cfg.route); err != nil {
			return fmt.Errorf("invalid --route: %w", err)
		}
	}

	w, err := cwlogs.New(cfg.group, cfg.stream, opts)
	if err != nil {
		return err
	}

	lines := make(chan []byte, 1024)
	readErr := make(chan error, 1)
	go readLines(in, lines, readErr)

	sink := w.MakeWriter()
	err = func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return <-readErr
				}
				if cfg.tee {
					out.Write(line)
				}
				s := sink
				if opts.Classifier != nil {
					s = w.MakeWriterFor(lineMetadata(line))
				}
				if _, err := s.Write(line); errors.Is(err, cwlogs.ErrInvalidData) {
					slog.Warn("skipping line that is not valid UTF-8")
				}
			}
		}
	}()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	if serr := w.Shutdown(sctx); serr != nil {
		err = errors.Join(err, fmt.Errorf("failed to flush queued lines: %w", serr))
	}
	return err
}

// readLines sends each line of in, including its newline, then closes lines
// and reports the read error (nil at EOF).
func readLines(in io.Reader, lines chan<- []byte, errCh chan<- error) {
	defer close(lines)
	r := bufio.NewReaderSize(in, 64<<10)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lines <- line
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			errCh <- err
			return
		}
	}
}

// lineMetadata derives routing metadata from a line. JSON object lines
// contribute their "level" (or "severity") field and their top-level fields
// as attrs; other lines are INFO with no attrs.
func lineMetadata(line []byte) cwlogs.Metadata {
	md := cwlogs.Metadata{Level: slog.LevelInfo, Attrs: map[string]string{}}

	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return md
	}
	var fields map[string]any
	if json.Unmarshal(line, &fields) != nil {
		return md
	}

	for k, v := range fields {
		switch v := v.(type) {
		case string:
			md.Attrs[k] = v
		case map[string]any, []any, nil:
		default:
			md.Attrs[k] = fmt.Sprint(v)
		}
	}

	for _, key := range []string{"level", "severity"} {
		if lv, ok := md.Attrs[key]; ok {
			var l slog.Level
			if l.UnmarshalText([]byte(strings.ToUpper(lv))) == nil {
				md.Level = l
				break
			}
		}
	}
	return md
}
