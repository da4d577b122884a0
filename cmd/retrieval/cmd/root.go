// Package cmd implements the retrieval CLI: build the index from a corpus,
// serve queries over HTTP, or run a single query from the terminal.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/postgres"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "retrieval",
		Short: "Passage retrieval over boolean, TF-IDF and cosine strategies",
		Long: `retrieval indexes a directory of text passages into a posting list and
per-passage feature vectors, then answers free-text queries against them.

  retrieval build --corpus raw_data --out public/data
  retrieval query --strategy tfidf "binary search"
  retrieval serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before the config; missing files are ignored")

	root.AddCommand(newBuildCmd(a), newServeCmd(a), newQueryCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// Only serve logs to stdout; the other commands keep stdout for results.
	var out io.Writer = cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		out = cmd.OutOrStdout()
	}
	logger.SetupWriter(out, cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// openStore returns the configured artifact store and a release func.
func (a *app) openStore(ctx context.Context) (artifact.Store, *postgres.Client, func(), error) {
	switch a.cfg.Indexer.ArtifactStore {
	case "postgres":
		client, err := postgres.New(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := artifact.NewPostgresStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		return store, client, func() { client.Close() }, nil
	default:
		return artifact.NewFileStore(a.cfg.Indexer.ArtifactDir), nil, func() {}, nil
	}
}
