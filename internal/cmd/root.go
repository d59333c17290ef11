package cmd

import (
	"strings"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Distributed task coordinator with quorum-approved dispatch",
	Long: `Quorum schedules prioritized tasks onto workers. Each dispatch holds a
resource reservation and needs approval from a quorum of validators
before the task is handed to the chosen worker.

Run 'quorum serve' to start the coordinator; the other commands talk to
a running coordinator over its HTTP API.`,
	SilenceUsage: true,
}

// outputJSON switches command output from tables to JSON.
var outputJSON bool

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/quorum/config.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "", "coordinator API base URL (default from api.server)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print output as JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("api.server", rootCmd.PersistentFlags().Lookup("server"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/quorum")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("QUORUM")
	// QUORUM_QUEUE_CAPACITY for queue.capacity
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newClient returns an API client for the configured coordinator.
func newClient() *api.Client {
	server := viper.GetString("api.server")
	if server == "" {
		server = config.Default().API.Server
	}
	return api.NewClient(server, nil)
}
