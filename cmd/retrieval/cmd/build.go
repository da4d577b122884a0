package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/events"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/kafka"
)

type buildOptions struct {
	corpus    string
	out       string
	format    string
	embedding string
	seed      int64
}

func newBuildCmd(a *app) *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index the corpus and persist the artifact pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "Corpus directory (overrides indexer.corpusDir)")
	cmd.Flags().StringVar(&opts.out, "out", "", "Artifact directory for the file store (overrides indexer.artifactDir)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Source format: plain or transcript")
	cmd.Flags().StringVar(&opts.embedding, "embedding", "", "Embedder: random or hashed")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Seed for random embeddings; 0 seeds from the clock")
	return cmd
}

func runBuild(cmd *cobra.Command, a *app, opts buildOptions) error {
	ctx := cmd.Context()
	cfg := a.cfg
	if opts.corpus != "" {
		cfg.Indexer.CorpusDir = opts.corpus
	}
	if opts.out != "" {
		cfg.Indexer.ArtifactDir = opts.out
	}
	if opts.format != "" {
		cfg.Indexer.SourceFormat = opts.format
	}
	if opts.embedding != "" {
		cfg.Indexer.Embedding = opts.embedding
	}
	if opts.seed != 0 {
		cfg.Indexer.RandomSeed = opts.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, _, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	var notifier indexer.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt)
		defer producer.Close()
		notifier = events.NewPublisher(producer)
	}

	runner, err := indexer.NewRunner(cfg.Indexer, store, notifier, nil)
	if err != nil {
		return err
	}
	_, manifest, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	slog.Debug("build finished", "store", cfg.Indexer.ArtifactStore)
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents, %d terms (generation %d)\n",
		manifest.Documents, manifest.Terms, manifest.Generation)
	return nil
}
