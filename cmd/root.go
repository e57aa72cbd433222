package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mariobot",
	Short: "mariobot — WhatsApp conversational relay for the Negocios Híbridos funnel",
	Long:  "mariobot receives WhatsApp Cloud API webhooks, runs a scripted qualification dialogue per sender, and falls back to OpenAI for free-form replies.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.mariobot/config.json)")
}
