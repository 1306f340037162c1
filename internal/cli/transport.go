package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/bitdabbler/cwlogs"
	"github.com/bitdabbler/cwlogs/beats"
	"github.com/bitdabbler/cwlogs/forward"
	"github.com/bitdabbler/cwlogs/localstore"
	"github.com/spf13/cobra"
)

const (
	transportCloudWatch = "cloudwatch"
	transportLocal      = "local"
	transportForward    = "forward"
	transportBeats      = "beats"
)

// transportConfig selects and configures the transport behind a Writer.
type transportConfig struct {
	kind        string
	region      string
	createGroup bool
	dataDir     string
	fsync       bool
	addr        string
	tagPrefix   string
	compress    bool
	verbose     bool
}

func addTransportFlags(cmd *cobra.Command) {
	cmd.Flags().String("transport", envString("CWSHIP_TRANSPORT", transportCloudWatch), "Transport: cloudwatch|local|forward|beats")
	cmd.Flags().String("region", envString("CWSHIP_REGION", ""), "AWS region (cloudwatch; default from the AWS configuration)")
	cmd.Flags().Bool("create-group", envBool("CWSHIP_CREATE_GROUP"), "Create the log group if it is missing (cloudwatch)")
	cmd.Flags().String("data-dir", envString("CWSHIP_DATA_DIR", ""), "Store directory (local)")
	cmd.Flags().Bool("fsync", envBool("CWSHIP_FSYNC"), "Fsync every append (local)")
	cmd.Flags().String("addr", envString("CWSHIP_ADDR", ""), "Collector address host:port (forward, beats)")
	cmd.Flags().String("tag-prefix", envString("CWSHIP_TAG_PREFIX", ""), "Fluent tag prefix (forward)")
	cmd.Flags().Bool("compress", envBool("CWSHIP_COMPRESS"), "Compress batches (forward: gzip, beats: zlib)")
}

func transportConfigFromFlags(cmd *cobra.Command) transportConfig {
	var tc transportConfig
	tc.kind, _ = cmd.Flags().GetString("transport")
	tc.region, _ = cmd.Flags().GetString("region")
	tc.createGroup, _ = cmd.Flags().GetBool("create-group")
	tc.dataDir, _ = cmd.Flags().GetString("data-dir")
	tc.fsync, _ = cmd.Flags().GetBool("fsync")
	tc.addr, _ = cmd.Flags().GetString("addr")
	tc.tagPrefix, _ = cmd.Flags().GetString("tag-prefix")
	tc.compress, _ = cmd.Flags().GetBool("compress")
	tc.verbose, _ = cmd.Flags().GetBool("verbose")
	return tc
}

// openTransport builds the configured transport. The returned func releases
// it and must be called after the Writer has shut down.
func openTransport(ctx context.Context, tc transportConfig) (cwlogs.Transport, func() error, error) {
	noop := func() error { return nil }

	switch tc.kind {
	case transportCloudWatch, "":
		var optFns []func(*config.LoadOptions) error
		if tc.region != "" {
			optFns = append(optFns, config.WithRegion(tc.region))
		}
		t, err := cwlogs.NewCloudWatchTransport(ctx, optFns...)
		if err != nil {
			return nil, nil, err
		}
		t.CreateGroup = tc.createGroup
		return t, noop, nil

	case transportLocal:
		s, err := localstore.Open(&localstore.Options{DataDir: tc.dataDir, Fsync: tc.fsync, Verbose: tc.verbose})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case transportForward:
		host, port, err := splitAddr(tc.addr)
		if err != nil {
			return nil, nil, err
		}
		t, err := forward.NewTransportContext(ctx, host, &forward.Options{
			Port:       port,
			TagPrefix:  tc.tagPrefix,
			Compressed: tc.compress,
			Verbose:    tc.verbose,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil

	case transportBeats:
		if _, _, err := splitAddr(tc.addr); err != nil {
			return nil, nil, err
		}
		opts := &beats.Options{Verbose: tc.verbose}
		if tc.compress {
			opts.CompressionLevel = 3
		}
		t, err := beats.NewTransport(tc.addr, opts)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	}

	return nil, nil, fmt.Errorf("invalid --transport %q; use cloudwatch|local|forward|beats", tc.kind)
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in --addr %q: %w", addr, err)
	}
	return host, port, nil
}
