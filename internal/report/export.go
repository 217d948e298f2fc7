package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id",
	"message_text",
	"report_type",
	"reporter_username",
	"reported_username",
	"timestamp",
	"report_type_display",
}

// WriteCSV writes reports as CSV with a header row. The last column carries
// the human-readable report type.
func WriteCSV(w io.Writer, reports []Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, r := range reports {
		record := []string{
			strconv.FormatInt(r.ID, 10),
			r.MessageText,
			strconv.Itoa(int(r.ReportType)),
			r.ReporterUsername,
			r.ReportedUsername,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.ReportType.Label(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: write csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
