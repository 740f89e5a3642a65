package main

import (
	"github.com/spf13/cobra"

	"github.com/groblegark/fmgo/client"
)

var listCmd = &cobra.Command{
	Use:   "list <layout>",
	Short: "List records of a layout without criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sorts, _ := cmd.Flags().GetStringArray("sort")
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		portals, _ := cmd.Flags().GetStringArray("portal")

		req := &client.ListRecordsRequest{Offset: offset, Limit: limit}
		for _, s := range parseSorts(sorts) {
			req.Sort = append(req.Sort, client.Sort{FieldName: s.Field, SortOrder: s.Order})
		}
		for _, p := range portals {
			req.Portals = append(req.Portals, client.PortalRange{Name: p})
		}

		records, err := fm.ListRecords(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		printRecords(records)
		return nil
	},
}

func init() {
	listCmd.Flags().StringArray("sort", nil, "sort field, prefix with - for descending (repeatable)")
	listCmd.Flags().Int("offset", 0, "1-based offset into the record set")
	listCmd.Flags().Int("limit", 0, "maximum records to return")
	listCmd.Flags().StringArray("portal", nil, "portal to include with each record (repeatable)")
}
