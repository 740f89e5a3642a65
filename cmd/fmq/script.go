package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script <layout> <name> [param]",
	Short: "Run a named script in the context of a layout",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		param := ""
		if len(args) == 3 {
			param = args[2]
		}
		result, err := fm.PerformScript(cmd.Context(), args[0], args[1], param)
		if err != nil {
			return err
		}
		if result.Error != "" && result.Error != "0" {
			return fmt.Errorf("script failed with engine error %s", result.Error)
		}
		if result.Result != "" {
			fmt.Println(result.Result)
		}
		return nil
	},
}
