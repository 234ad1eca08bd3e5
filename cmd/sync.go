package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/deadonfilm/deadonfilm/internal/fetcher"
	"github.com/deadonfilm/deadonfilm/internal/imdb"
)

var (
	syncURL      string
	syncKeepFile string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load deceased performers from the IMDb name.basics dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		url := syncURL
		if url == "" {
			url = cfg.IMDb.NamesURL
		}

		// The dataset is a few hundred MB; the timeout covers the
		// whole streamed body, not just the dial.
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: "deadonfilm/1.0",
			Timeout:   30 * time.Minute,
		})
		syncer := imdb.NewSyncer(f, st, cfg.IMDb.ChunkSize)
		if syncKeepFile != "" {
			syncer = syncer.WithKeepFile(syncKeepFile)
		}

		result, err := syncer.Sync(ctx, url)
		if err != nil {
			return eris.Wrap(err, "imdb sync")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncURL, "url", "", "dataset URL (default from config)")
	syncCmd.Flags().StringVar(&syncKeepFile, "keep-file", "", "also save the downloaded archive at this path")
	rootCmd.AddCommand(syncCmd)
}
