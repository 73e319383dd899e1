// Package cmd provides the orchestrator's CLI command structure: starting
// the Gateway server, and issuing swarm/node/connection operations against
// a running orchestrator's HTTP surface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/beehive-labs/swarm-orchestrator/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Filesystem-mail message-plane orchestrator for sandboxed agent swarms",
	Long: `orchestrator runs the Gateway, Mail Router, and Container Supervisor
for a swarm of sandboxed agents that communicate exclusively via
filesystem-based mail queues, or issues commands against an already
running orchestrator's Gateway.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/swarm-orchestrator/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("gateway", "http://localhost:7420", "address of a running orchestrator's Gateway, for client subcommands")
	_ = viper.BindPFlag("gateway_addr", rootCmd.PersistentFlags().Lookup("gateway"))

	registerServe(rootCmd)
	registerSwarm(rootCmd)
	registerNode(rootCmd)
	registerConn(rootCmd)
}

func initConfig() {
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/swarm-orchestrator")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SWARM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// These keys also accept an unprefixed variable; the SWARM_ name wins
	// when both are set.
	_ = viper.BindEnv("data_root", "SWARM_DATA_ROOT", "DATA_ROOT")
	_ = viper.BindEnv("server.listen_addr", "SWARM_SERVER_LISTEN_ADDR", "LISTEN_ADDR")
	_ = viper.BindEnv("container.backend", "SWARM_CONTAINER_BACKEND", "CONTAINER_BACKEND")
	_ = viper.BindEnv("provider.api_key", "SWARM_PROVIDER_API_KEY", "PROVIDER_API_KEY")

	_ = viper.ReadInConfig()
}
