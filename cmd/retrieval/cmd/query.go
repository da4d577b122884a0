package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
)

type queryOptions struct {
	strategy string
	limit    int
	format   string
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Load the persisted index and run one query",
		Example: `  retrieval query "the cat"
  retrieval query --strategy cosine --limit 5 --format json "merge sort"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, a, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "boolean, tfidf or cosine (default search.defaultStrategy)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum results; 0 for all")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")
	return cmd
}

func runQuery(cmd *cobra.Command, a *app, text string, opts queryOptions) error {
	ctx := cmd.Context()
	strategyName := opts.strategy
	if strategyName == "" {
		strategyName = a.cfg.Search.DefaultStrategy
	}
	strategy, err := engine.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	scheme, err := tokenizer.NewScheme(tokenizer.Mode(a.cfg.Indexer.Tokenizer))
	if err != nil {
		return err
	}

	store, _, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	e := engine.New(engine.Options{Scheme: scheme, CosineMatch: a.cfg.Search.CosineMatch})
	if err := e.Load(ctx, store); err != nil {
		return err
	}
	resp, err := e.Query(ctx, engine.Request{Text: text, Strategy: strategy, Limit: opts.limit})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(cmd.OutOrStdout(), resp)
	return nil
}

func printResults(w io.Writer, resp *engine.Response) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	fmt.Fprintf(w, "%d of %d matches (%s)\n", len(resp.Results), resp.Total, resp.Strategy)
	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = fmt.Sprintf("document %d", r.ID)
		}
		if resp.Strategy == engine.StrategyBoolean {
			fmt.Fprintf(w, "%2d. %s\n", i+1, title)
		} else {
			fmt.Fprintf(w, "%2d. [%.4f] %s\n", i+1, r.Score, title)
		}
		fmt.Fprintf(w, "    %s\n", r.Text)
		if url := r.PlaybackURL(); url != "" {
			fmt.Fprintf(w, "    %s\n", url)
		}
	}
}
