package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <layout> <record-id> <field> <file>",
	Short: "Upload a file into a container field",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		repetition, _ := cmd.Flags().GetInt("repetition")

		f, err := os.Open(args[3])
		if err != nil {
			return err
		}
		defer f.Close()

		err = fm.UploadContainer(cmd.Context(), args[0], args[1], args[2], repetition, filepath.Base(args[3]), f)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s into %s\n", filepath.Base(args[3]), args[2])
		return nil
	},
}

func init() {
	uploadCmd.Flags().Int("repetition", 1, "container repetition")
}
