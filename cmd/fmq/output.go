package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/groblegark/fmgo/client"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// recordView is the JSON shape printed for a record.
type recordView struct {
	RecordID   string                      `json:"recordId"`
	ModID      string                      `json:"modId"`
	FieldData  map[string]any              `json:"fieldData"`
	PortalData map[string][]map[string]any `json:"portalData,omitempty"`
}

func viewOf(rec *client.Record) recordView {
	view := recordView{
		RecordID:  rec.RecordID,
		ModID:     rec.ModID,
		FieldData: rec.FieldData,
	}
	if len(rec.PortalData) > 0 {
		view.PortalData = make(map[string][]map[string]any, len(rec.PortalData))
		for portal, rows := range rec.PortalData {
			out := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				entry := make(map[string]any, len(row.Fields)+2)
				for k, v := range row.Fields {
					entry[k] = v
				}
				entry["recordId"] = row.RecordID
				entry["modId"] = row.ModID
				out = append(out, entry)
			}
			view.PortalData[portal] = out
		}
	}
	return view
}

func printRecord(rec *client.Record) {
	if jsonOutput {
		printJSON(viewOf(rec))
		return
	}
	fmt.Printf("Record ID: %s\n", rec.RecordID)
	fmt.Printf("Mod ID:    %s\n", rec.ModID)
	for _, name := range sortedKeys(rec.FieldData) {
		fmt.Printf("%s: %v\n", name, rec.FieldData[name])
	}
	for portal, rows := range rec.PortalData {
		fmt.Printf("Portal %s (%d rows):\n", portal, len(rows))
		for _, row := range rows {
			fmt.Printf("  [%s]", row.RecordID)
			for _, name := range sortedKeys(row.Fields) {
				fmt.Printf(" %s=%v", name, row.Fields[name])
			}
			fmt.Println()
		}
	}
}

func printRecords(records []*client.Record) {
	if jsonOutput {
		views := make([]recordView, 0, len(records))
		for _, rec := range records {
			views = append(views, viewOf(rec))
		}
		printJSON(views)
		return
	}
	if len(records) == 0 {
		fmt.Println("no records")
		return
	}

	// Column set: union of field names across the result, in sorted order.
	columns := map[string]struct{}{}
	for _, rec := range records {
		for name := range rec.FieldData {
			columns[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "RECORD"
	for _, name := range names {
		header += "\t" + name
	}
	fmt.Fprintln(w, header)
	for _, rec := range records {
		line := rec.RecordID
		for _, name := range names {
			line += fmt.Sprintf("\t%v", rec.FieldData[name])
		}
		fmt.Fprintln(w, line)
	}
	w.Flush()
	fmt.Printf("%d record(s)\n", len(records))
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
