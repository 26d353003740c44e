package importer

import (
	"fmt"
	"io"
)

// PrintOutcome writes the run summary. Failed objects are reported but do
// not make the run unsuccessful.
func PrintOutcome(w io.Writer, o *Outcome) {
	fmt.Fprintf(w, "There are %d failed objects\n", o.Failed)
	fmt.Fprintf(w, "Imported %d objects in %.3f minutes\n", o.Expected, o.Elapsed.Minutes())
	fmt.Fprintln(w, "Aggregate data")
	fmt.Fprintf(w, "aggregate.total_count: %d\n", o.TotalCount)
	fmt.Fprintln(w, "Success")
}
