package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// PrintReport outputs a human-readable summary of one strategy.
func PrintReport(w io.Writer, r *Report) {
	fmt.Fprintf(w, "\n--- %s Results ---\n", r.Variant)
	fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	fmt.Fprintf(w, "Runs:              %d\n", r.Runs)
	fmt.Fprintf(w, "Items:             %d\n", r.Items)
	fmt.Fprintf(w, "Fields:            %d\n", r.Fields)
	fmt.Fprintf(w, "Rows:              %d\n", r.Rows)
	fmt.Fprintf(w, "Items/sec:         %.2f\n", r.ItemsPerSec)
	fmt.Fprintln(w, "\nElapsed:")
	fmt.Fprintf(w, "  Min:             %s\n", r.Min)
	fmt.Fprintf(w, "  Max:             %s\n", r.Max)
	fmt.Fprintf(w, "  Mean:            %s\n", r.Mean)
	fmt.Fprintf(w, "  P50:             %s\n", r.P50)
	fmt.Fprintf(w, "  P90:             %s\n", r.P90)
	fmt.Fprintf(w, "  P99:             %s\n", r.P99)
}

// PrintComparison outputs one line per strategy.
func PrintComparison(w io.Writer, reports []*Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tRUNS\tROWS\tMEAN\tP50\tP99\tITEMS/SEC")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%.2f\n",
			r.Variant, r.Runs, r.Rows, r.Mean, r.P50, r.P99, r.ItemsPerSec)
	}
	tw.Flush()
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteCSV writes t with an Instrument column followed by its fields.
// Null cells are written as empty strings.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)

	header := append([]string{table.IdentifierColumn}, t.Fields...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range t.Rows {
		record[0] = row.Instrument
		for i, f := range t.Fields {
			record[i+1] = row.Get(f).Text()
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write CSV row %s: %w", row.Instrument, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
