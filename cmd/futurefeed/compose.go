package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

type composeFlags struct {
	snapshot string
	page     int
	size     int
	seed     uint64
	full     bool
}

func newComposeCmd() *cobra.Command {
	var f composeFlags

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a feed offline from a YAML snapshot",
		Long: `Load topics, posts and rules from a YAML snapshot and print the composed
feed as JSON. Paged mode is the default; --full prints the unpaginated set.`,
		Example: `  futurefeed compose --snapshot corpus.yaml --page 0 --size 10 --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "YAML snapshot with topics, posts and rules")
	cmd.Flags().IntVar(&f.page, "page", 0, "zero-based page index")
	cmd.Flags().IntVar(&f.size, "size", 10, "page size")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "seed for the fallback shuffle (random when unset)")
	cmd.Flags().BoolVar(&f.full, "full", false, "compose the full feed instead of a page")
	cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runCompose(cmd *cobra.Command, f composeFlags) error {
	file, err := os.Open(f.snapshot)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer file.Close()

	corpus, rules, err := store.LoadSnapshot(file)
	if err != nil {
		return err
	}

	var opts []compose.Option
	if cmd.Flags().Changed("seed") {
		opts = append(opts, compose.WithSeed(f.seed))
	}
	composer := compose.New(opts...)

	var out any
	if f.full {
		out, err = composer.ComposeFeed(cmd.Context(), rules, corpus)
	} else {
		out, err = composer.ComposeFeedPage(cmd.Context(), rules, corpus, f.page, f.size)
	}
	if err != nil {
		return fmt.Errorf("composing feed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
