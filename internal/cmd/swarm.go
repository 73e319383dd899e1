package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
)

func registerSwarm(root *cobra.Command) {
	swarmCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Inspect or replace the running orchestrator's swarm graph",
	}

	swarmCmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current swarm configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg registry.SwarmConfig
			if err := newAPIClient().do("GET", "/swarm", nil, &cfg); err != nil {
				return err
			}
			printJSON(cfg)
			return nil
		},
	})

	swarmCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the current swarm configuration as editable YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg registry.SwarmConfig
			if err := newAPIClient().do("GET", "/swarm", nil, &cfg); err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode swarm config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	})

	var putFile string
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Replace the swarm configuration from a JSON or YAML file (- for JSON on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFileOrStdin(putFile)
			if err != nil {
				return err
			}
			cfg, err := parseSwarmConfig(putFile, data)
			if err != nil {
				return err
			}
			var out registry.SwarmConfig
			if err := newAPIClient().do("PUT", "/swarm", cfg, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	putCmd.Flags().StringVarP(&putFile, "file", "f", "-", "file to read the new configuration from")
	swarmCmd.AddCommand(putCmd)

	root.AddCommand(swarmCmd)
}

// parseSwarmConfig decodes data as YAML when the file extension says so, and
// as JSON otherwise.
func parseSwarmConfig(path string, data []byte) (registry.SwarmConfig, error) {
	var cfg registry.SwarmConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse swarm config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse swarm config: %w", err)
		}
	}
	return cfg, nil
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
