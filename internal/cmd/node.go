package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
	"github.com/beehive-labs/swarm-orchestrator/internal/supervisor"
)

func registerNode(root *cobra.Command) {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Manage agent nodes (bees) in the swarm",
	}

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every node and whether it is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nodes []any
			if err := newAPIClient().do("GET", "/nodes", nil, &nodes); err != nil {
				return err
			}
			printJSON(nodes)
			return nil
		},
	})

	var (
		name, model, soul string
	)
	addCmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a new agent node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bee := registry.Bee{ID: args[0], Name: name, Model: model, Soul: soul}
			var out registry.Bee
			if err := newAPIClient().do("POST", "/nodes", bee, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "display name for the node")
	addCmd.Flags().StringVar(&model, "model", "", "model identifier the node's agent runs")
	addCmd.Flags().StringVar(&soul, "soul", "", "system-prompt / personality text for the node, written to its soul.md")
	nodeCmd.AddCommand(addCmd)

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Stop, then permanently remove a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().do("DELETE", "/nodes/"+args[0], nil, nil)
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "start <id>",
		Short: "Start a node's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().do("POST", "/nodes/"+args[0]+"/start", nil, nil)
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a node's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient().do("POST", "/nodes/"+args[0]+"/stop", nil, nil)
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show a node's container state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st supervisor.State
			if err := newAPIClient().do("GET", "/nodes/"+args[0]+"/status", nil, &st); err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "hierarchy <id>",
		Short: "Show which nodes a node can hear from and delegate to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var h supervisor.HierarchyFile
			if err := newAPIClient().do("GET", "/nodes/"+args[0]+"/hierarchy", nil, &h); err != nil {
				return err
			}
			printJSON(h)
			return nil
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "transcript <id>",
		Short: "Print the tail of a node's transcript log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newAPIClient().do("GET", "/nodes/"+args[0]+"/transcript", nil, &out); err != nil {
				return err
			}
			lines, _ := out["lines"].([]any)
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "inbox <id>",
		Short: "List the mail currently queued in a node's inbox",
		Args:  cobra.ExactArgs(1),
		RunE:  nodeMailLister("/inbox"),
	})

	nodeCmd.AddCommand(&cobra.Command{
		Use:   "outbox <id>",
		Short: "List the mail currently queued in a node's outbox",
		Args:  cobra.ExactArgs(1),
		RunE:  nodeMailLister("/outbox"),
	})

	root.AddCommand(nodeCmd)
}

func nodeMailLister(suffix string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var mails []any
		if err := newAPIClient().do("GET", "/nodes/"+args[0]+suffix, nil, &mails); err != nil {
			return err
		}
		printJSON(mails)
		return nil
	}
}
