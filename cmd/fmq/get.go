package main

import (
	"github.com/spf13/cobra"

	"github.com/groblegark/fmgo/client"
)

var getCmd = &cobra.Command{
	Use:   "get <layout> <record-id>",
	Short: "Fetch one record by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		portals, _ := cmd.Flags().GetStringArray("portal")

		var opts *client.GetRecordOptions
		if len(portals) > 0 {
			opts = &client.GetRecordOptions{}
			for _, p := range portals {
				opts.Portals = append(opts.Portals, client.PortalRange{Name: p})
			}
		}
		rec, err := fm.GetRecord(cmd.Context(), args[0], args[1], opts)
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	},
}

func init() {
	getCmd.Flags().StringArray("portal", nil, "portal to include (repeatable)")
}
