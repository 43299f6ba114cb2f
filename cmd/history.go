package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adnet-tools/wmsnap/internal/utils"
	"github.com/adnet-tools/wmsnap/pkg/storage"
)

// historyCmd lists previously fetched reports from the local catalog.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previously fetched reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := historyPath()
		if err != nil {
			return err
		}

		db, err := storage.Open(path)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer db.Close()

		fetches, err := db.ListFetches(context.Background())
		if err != nil {
			return err
		}

		if len(fetches) == 0 {
			utils.Log.Info("No fetches recorded yet")
			return nil
		}

		for _, f := range fetches {
			fmt.Printf("%s  %-10s %s..%s  advertiser=%s  rows=%d  %s\n",
				f.FetchedAt.Format("2006-01-02 15:04:05"),
				f.ReportType, f.StartDate, f.EndDate, f.AdvertiserID, f.Rows, f.OutputPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
