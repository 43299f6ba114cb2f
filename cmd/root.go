package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/adnet-tools/wmsnap/internal/utils"
)

var cfgFile string

const (
	defaultTokenURL    = "https://api-gateway.walmart.com/v3/token"
	defaultBaseURL     = "https://developer.api.us.walmart.com/api-proxy/service/display/api/v1/api/v1"
	defaultDownloadURL = "https://advertising.walmart.com/display/file"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wmsnap",
	Short: "Fetch Walmart Connect advertising report snapshots.",
	Long: `wmsnap automates Walmart Connect display report snapshots: it creates the
report job, polls it to completion, then downloads and decompresses the
resulting CSV.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wmsnap.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".wmsnap")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.wmsnap.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("walmart.client_id", "")
	viper.SetDefault("walmart.client_secret", "")
	viper.SetDefault("walmart.private_key_path", "")
	viper.SetDefault("walmart.key_version", "1")
	viper.SetDefault("walmart.advertiser_id", "")
	viper.SetDefault("walmart.token_url", defaultTokenURL)
	viper.SetDefault("walmart.base_url", defaultBaseURL)
	viper.SetDefault("walmart.download_url", defaultDownloadURL)
	viper.SetDefault("history.path", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// historyPath resolves the sqlite catalog location.
func historyPath() (string, error) {
	if p := viper.GetString("history.path"); p != "" {
		return p, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return home + "/.wmsnap.sqlite", nil
}
