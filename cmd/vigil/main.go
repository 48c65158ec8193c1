package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vigil",
	Short:   "Vigil - malware analysis pipeline",
	Long:    `Vigil ingests untrusted binaries, runs static and dynamic analysis, and synthesizes a risk verdict, each stage an independently deployable process wired through a durable bus.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vigil version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file (defaults are spec-complete without one)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(staticWorkerCmd)
	rootCmd.AddCommand(dynamicWorkerCmd)
	rootCmd.AddCommand(synthesizerCmd)
	rootCmd.AddCommand(streamGatewayCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig reads the --config flag, falling back to config.Default()
// when unset.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
