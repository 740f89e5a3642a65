package main

import (
	"github.com/spf13/cobra"

	"github.com/groblegark/fmgo/client"
)

var findCmd = &cobra.Command{
	Use:   "find <layout> <Field=criterion>...",
	Short: "Run a compound find against a layout",
	Long: `Run a compound find. Positional Field=criterion pairs form the find step;
criteria use the server's own syntax (==exact, ==*contains*, >n, a...b).
Each --omit flag adds one omit step, applied after the find step in order.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout := args[0]
		criteria, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		omits, _ := cmd.Flags().GetStringArray("omit")
		sorts, _ := cmd.Flags().GetStringArray("sort")
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		portals, _ := cmd.Flags().GetStringArray("portal")

		req := &client.FindRequest{
			Query:  []client.FindQuery{{Criteria: criteria}},
			Offset: offset,
			Limit:  limit,
		}
		for _, omit := range omits {
			crit, err := parsePairs([]string{omit})
			if err != nil {
				return err
			}
			req.Query = append(req.Query, client.FindQuery{Omit: true, Criteria: crit})
		}
		for _, s := range parseSorts(sorts) {
			req.Sort = append(req.Sort, client.Sort{FieldName: s.Field, SortOrder: s.Order})
		}
		for _, p := range portals {
			req.Portals = append(req.Portals, client.PortalRange{Name: p})
		}

		records, err := fm.Find(cmd.Context(), layout, req)
		if err != nil {
			if client.IsNoMatch(err) {
				records = nil
			} else {
				return err
			}
		}
		printRecords(records)
		return nil
	},
}

func init() {
	findCmd.Flags().StringArray("omit", nil, "omit step as Field=criterion (repeatable, applied in order)")
	findCmd.Flags().StringArray("sort", nil, "sort field, prefix with - for descending (repeatable)")
	findCmd.Flags().Int("offset", 0, "1-based offset into the found set")
	findCmd.Flags().Int("limit", 0, "maximum records to return")
	findCmd.Flags().StringArray("portal", nil, "portal to include with each record (repeatable)")
}
