package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adnet-tools/wmsnap/internal/utils"
	"github.com/adnet-tools/wmsnap/pkg/report"
	"github.com/adnet-tools/wmsnap/pkg/snapshot"
	"github.com/adnet-tools/wmsnap/pkg/storage"
	"github.com/adnet-tools/wmsnap/pkg/wmauth"
	"github.com/adnet-tools/wmsnap/pkg/wmerr"
)

// Exit codes, so automation can branch on outcome.
const (
	exitAPIError    = 1
	exitBadInput    = 2
	exitInterrupted = 130
)

// fetchCmd runs the whole pipeline: create job, poll, download, summarize.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Create a report snapshot, wait for it, and download the CSV",
	Long: `Creates a report snapshot job, polls its status every 30 seconds (up to
~30 minutes), then downloads and decompresses the resulting report.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runFetch(cmd))
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringP("report-type", "r", "", "Report type. Available: "+snapshot.ReportTypesHelp())
	fetchCmd.Flags().StringP("start-date", "s", "", "Start date (YYYY-MM-DD)")
	fetchCmd.Flags().StringP("end-date", "e", "", "End date (YYYY-MM-DD)")
	fetchCmd.Flags().StringP("advertiser-id", "a", "", "Advertiser ID (defaults to walmart.advertiser_id from config)")
	fetchCmd.Flags().StringP("output-dir", "o", "", "Directory for the downloaded CSV (default: $HOME/wmsnap-reports)")
	fetchCmd.Flags().Bool("no-history", false, "Do not record this fetch in the local history database")
}

func runFetch(cmd *cobra.Command) int {
	reportType, _ := cmd.Flags().GetString("report-type")
	startDate, _ := cmd.Flags().GetString("start-date")
	endDate, _ := cmd.Flags().GetString("end-date")
	advertiserID, _ := cmd.Flags().GetString("advertiser-id")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	if reportType == "" || startDate == "" || endDate == "" {
		utils.Log.Error("Flags --report-type, --start-date and --end-date are required")
		return exitBadInput
	}

	if advertiserID == "" {
		advertiserID = viper.GetString("walmart.advertiser_id")
	}
	if advertiserID == "" {
		utils.Log.Error("No advertiser ID provided. Use --advertiser-id or set walmart.advertiser_id in the config")
		return exitBadInput
	}

	creds := wmauth.Credentials{
		ClientID:       viper.GetString("walmart.client_id"),
		ClientSecret:   viper.GetString("walmart.client_secret"),
		PrivateKeyPath: viper.GetString("walmart.private_key_path"),
		KeyVersion:     viper.GetString("walmart.key_version"),
		AdvertiserID:   advertiserID,
	}

	authority, err := wmauth.New(creds, viper.GetString("walmart.token_url"))
	if err != nil {
		utils.Log.Error(err)
		return exitCodeFor(err)
	}

	client := snapshot.NewClient(authority,
		viper.GetString("walmart.base_url"),
		viper.GetString("walmart.download_url"))

	if outputDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			utils.Log.Error(err)
			return exitAPIError
		}
		outputDir, err = report.DefaultDir(home)
		if err != nil {
			utils.Log.Error(err)
			return exitAPIError
		}
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		utils.Log.Error(err)
		return exitAPIError
	}

	outPath := filepath.Join(outputDir,
		report.Filename(reportType, startDate, endDate, advertiserID, time.Now()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := client.Run(ctx, advertiserID, reportType, startDate, endDate, outPath)
	if err != nil {
		if ctx.Err() != nil {
			utils.Log.Info("Interrupted by user")
			return exitInterrupted
		}
		utils.Log.Error(err)
		var apiErr *wmerr.Error
		if errors.As(err, &apiErr) && apiErr.Body != "" {
			utils.Log.Debugf("Response body: %s", apiErr.Body)
		}
		return exitCodeFor(err)
	}

	printSummary(sum)

	if !noHistory {
		recordFetch(reportType, startDate, endDate, advertiserID, sum)
	}

	return 0
}

// exitCodeFor maps the error taxonomy onto process exit codes: bad input or
// configuration is 2, user interruption is 130, everything else is 1.
func exitCodeFor(err error) int {
	kind, ok := wmerr.KindOf(err)
	if !ok {
		return exitAPIError
	}
	switch kind {
	case wmerr.Config, wmerr.Validation:
		return exitBadInput
	case wmerr.Interrupted:
		return exitInterrupted
	default:
		return exitAPIError
	}
}

func printSummary(sum *report.Summary) {
	line := strings.Repeat("=", 50)
	fmt.Println()
	fmt.Println(line)
	fmt.Println("DOWNLOAD COMPLETE")
	fmt.Println(line)
	fmt.Printf("  File:    %s\n", sum.Path)
	fmt.Printf("  Rows:    %d\n", sum.Rows)
	fmt.Printf("  Columns: %d\n", sum.Columns)
	if len(sum.Headers) > 0 {
		shown := sum.Headers
		extra := 0
		if len(shown) > 5 {
			extra = len(shown) - 5
			shown = shown[:5]
		}
		fmt.Printf("  Headers: %s", strings.Join(shown, ", "))
		if extra > 0 {
			fmt.Printf(" ... (+%d more)", extra)
		}
		fmt.Println()
	}
	fmt.Println(line)
}

func recordFetch(reportType, startDate, endDate, advertiserID string, sum *report.Summary) {
	path, err := historyPath()
	if err != nil {
		utils.Log.Warnf("Could not resolve history path: %v", err)
		return
	}
	db, err := storage.Open(path)
	if err != nil {
		utils.Log.Warnf("Could not open history database: %v", err)
		return
	}
	defer db.Close()

	err = db.RecordFetch(context.Background(), storage.Fetch{
		ReportType:   reportType,
		StartDate:    startDate,
		EndDate:      endDate,
		AdvertiserID: advertiserID,
		OutputPath:   sum.Path,
		Rows:         sum.Rows,
	})
	if err != nil {
		utils.Log.Warnf("Could not record fetch in history: %v", err)
	}
}
