package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/metrics"
)

// Submission is a report as received from a client, before validation.
type Submission struct {
	MessageText      string
	ReportType       string // raw textual form
	ReporterUsername string
	ReportedUsername *string // nil when omitted
}

// Sink validates submissions and appends them to a Store.
type Sink struct {
	store Store
	log   zerolog.Logger
}

// NewSink creates a sink writing to store.
func NewSink(store Store, log zerolog.Logger) *Sink {
	return &Sink{store: store, log: log}
}

// Submit validates s and persists exactly one report. It returns
// ErrInvalidType without touching the store when the type is unknown, and an
// error wrapping ErrStoreFailure when the store rejects the insert.
func (s *Sink) Submit(ctx context.Context, sub Submission) error {
	t, err := ParseType(sub.ReportType)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid_type").Inc()
		return err
	}

	reported := DefaultReportedUsername
	if sub.ReportedUsername != nil {
		reported = *sub.ReportedUsername
	}

	r := &Report{
		MessageText:      sub.MessageText,
		ReportType:       t,
		ReporterUsername: sub.ReporterUsername,
		ReportedUsername: reported,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		metrics.ReportsTotal.WithLabelValues("store_failure").Inc()
		if errors.Is(err, ErrStoreFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	metrics.ReportsTotal.WithLabelValues("stored").Inc()
	s.log.Info().
		Int64("report_id", r.ID).
		Str("type", t.Label()).
		Str("reporter", r.ReporterUsername).
		Str("reported", r.ReportedUsername).
		Msg("report stored")
	return nil
}
