// Package main implements indexmanagerctl, a minimal CLI exercising
// create/ingest/query/offload against an in-process index manager. It
// is not the subject of this module: the manager itself is a library
// (pkg/manager), and this binary exists only to drive it end-to-end
// from a shell.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexmanager/internal/config"
	"github.com/fyrsmithlabs/indexmanager/internal/logging"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
	idxmanager "github.com/fyrsmithlabs/indexmanager/pkg/manager"
)

var (
	configPath string
	logLevel   string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexmanagerctl",
	Short:   "Exercise the index manager's create/ingest/query/offload operations",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.AddCommand(createCmd, ingestCmd, queryCmd, offloadCmd, statsCmd)
}

func newManager(ctx context.Context) (*idxmanager.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	lgCfg := logging.NewDefaultConfig()
	lgCfg.Level, err = logging.LevelFromString(logLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing --log-level: %w", err)
	}

	lg, err := logging.NewLogger(lgCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	return idxmanager.New(ctx, cfg, lg.Underlying())
}

var createCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Create a new live index using the deterministic mock embedding model",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := newManager(ctx)
		if err != nil {
			return err
		}
		opts := idxmanager.CreationOptions{
			EmbeddingProviderName: providers.MockModelName,
			Dimension:             providers.MockDimension,
			Backend:               sandbox.BackendChromem,
		}
		if len(args) == 1 {
			opts.ID = args[0]
		}
		id, err := mgr.CreateIndex(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <id> <doc-id> <text>",
	Short: "Embed text via the mock model and add it to a live index",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := newManager(ctx)
		if err != nil {
			return err
		}
		return mgr.AddDocuments(ctx, args[0], []idxmanager.Document{
			{ID: args[1], Text: args[2]},
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <id> <text>",
	Short: "Embed text via the mock model and query a live index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := newManager(ctx)
		if err != nil {
			return err
		}
		results, err := mgr.QueryIndex(ctx, args[0], args[1], nil, sandbox.QueryOptions{K: 10})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s\t%.4f\t%s\n", r.ID, r.Score, r.Text)
		}
		return nil
	},
}

var offloadCmd = &cobra.Command{
	Use:   "offload <id>",
	Short: "Manually offload a live index to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := newManager(ctx)
		if err != nil {
			return err
		}
		return mgr.ManualOffload(args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print live-index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := newManager(ctx)
		if err != nil {
			return err
		}
		st := mgr.GetStats()
		fmt.Printf("live=%d documents=%d activeTimers=%d offloadDir=%s\n",
			st.LiveCount, st.TotalDocuments, st.ActiveTimers, st.OffloadDirectory)
		return nil
	},
}
