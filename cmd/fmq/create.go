package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groblegark/fmgo/client"
)

var createCmd = &cobra.Command{
	Use:   "create <layout> <Field=value>...",
	Short: "Create a record",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		fieldData := make(map[string]any, len(pairs))
		for k, v := range pairs {
			fieldData[k] = v
		}

		resp, err := fm.CreateRecord(cmd.Context(), args[0], &client.CreateRecordRequest{FieldData: fieldData})
		if err != nil {
			return err
		}
		fmt.Printf("created record %s (mod %s)\n", resp.RecordID, resp.ModID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <layout> <record-id>",
	Short: "Delete a record by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := fm.DeleteRecord(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted record %s\n", args[1])
		return nil
	},
}
