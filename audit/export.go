package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"
)

// =============================================================================
// CSV EXPORT
// =============================================================================

// exportColumns is the fixed export column set, in order.
var exportColumns = []string{
	"Timestamp",
	"Entity Type",
	"Entity ID",
	"Action",
	"User Email",
	"Changes (JSON)",
	"Metadata (JSON)",
	"IP Address",
}

// ExportCSV writes the filtered trail as CSV. Pagination on the query is
// ignored; the export is capped at Retention rows.
func (r *Recorder) ExportCSV(ctx context.Context, w io.Writer, q Query) error {
	q.Offset = 0
	q.Limit = Retention

	result, err := r.sink.Query(ctx, q)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, e := range result.Events {
		changes, _ := json.Marshal(e.Changes)
		metadata, _ := json.Marshal(e.Metadata)
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.EntityType,
			e.EntityID,
			e.Action,
			e.UserEmail,
			string(changes),
			string(metadata),
			e.IPAddress,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
