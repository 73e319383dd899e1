package cmd

import (
	"github.com/spf13/cobra"
)

type connRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Bidirectional bool   `json:"bidirectional"`
}

func registerConn(root *cobra.Command) {
	connCmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage permission edges in the swarm topology",
	}

	var addBidir bool
	addCmd := &cobra.Command{
		Use:   "add <from> <to>",
		Short: "Allow <from> to send mail to <to>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := connRequest{From: args[0], To: args[1], Bidirectional: addBidir}
			return newAPIClient().do("POST", "/connections", req, nil)
		},
	}
	addCmd.Flags().BoolVar(&addBidir, "bidir", false, "also allow <to> to send mail back to <from>")
	connCmd.AddCommand(addCmd)

	var removeBidir bool
	removeCmd := &cobra.Command{
		Use:   "remove <from> <to>",
		Short: "Revoke the edge allowing <from> to send mail to <to>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := connRequest{From: args[0], To: args[1], Bidirectional: removeBidir}
			return newAPIClient().do("DELETE", "/connections", req, nil)
		},
	}
	removeCmd.Flags().BoolVar(&removeBidir, "bidir", false, "also revoke the reverse edge")
	connCmd.AddCommand(removeCmd)

	var setBidir bool
	setBidirCmd := &cobra.Command{
		Use:   "set-bidir <from> <to>",
		Short: "Change whether an existing edge is bidirectional",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := connRequest{From: args[0], To: args[1], Bidirectional: setBidir}
			return newAPIClient().do("PATCH", "/connections", req, nil)
		},
	}
	setBidirCmd.Flags().BoolVar(&setBidir, "bidir", true, "whether the edge should be bidirectional")
	connCmd.AddCommand(setBidirCmd)

	root.AddCommand(connCmd)
}
