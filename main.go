package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "videorag",
	Short: "Ask questions about short videos using their transcripts",
	Long: `videorag ingests short videos (transcribe, chunk, embed, index), answers
semantic searches with timestamped matches and serves a streaming chat over
the transcript.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML; default config.json or config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
