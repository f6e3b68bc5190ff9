package cli

import (
	"github.com/spf13/cobra"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/logging"
)

var (
	verbose    bool
	configPath string
	envFile    string
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sublingo",
	Short: "Context-aware AI subtitle translator",
	Long: `Sublingo translates SRT and VTT subtitles with large language models.

Adjacent lines are grouped into sentence-aware batches so the model sees
whole sentences, the translation is mapped back onto the original
timestamps, and overlong translated lines can be split into shorter ones.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.NewLogger(verbose)
		return config.LoadEnv(envFile)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().
		StringVar(&envFile, "env-file", ".env", "Dotenv file with provider API keys")
}
