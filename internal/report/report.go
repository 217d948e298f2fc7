// Package report persists user-submitted reports about chat messages for
// later human review. Reports are append-only: once stored they are never
// modified by the relay.
package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidType is returned when report_type is not one of the known
	// categories. Nothing is persisted.
	ErrInvalidType = errors.New("report: invalid report type")

	// ErrStoreFailure wraps any error raised by the underlying store.
	ErrStoreFailure = errors.New("report: store failure")
)

// DefaultReportedUsername is stored when the client omits reported_username.
const DefaultReportedUsername = "Unknown"

// previewLen is the number of characters of message text shown in String.
const previewLen = 50

// Type is the category a reporter assigns to a message.
type Type int

const (
	HateSpeech Type = iota
	OffensiveLanguage
	FalsePositive
)

var typeLabels = map[Type]string{
	HateSpeech:        "Hate Speech",
	OffensiveLanguage: "Offensive Language",
	FalsePositive:     "Not Toxic (False Positive)",
}

// Valid reports whether t is a known category.
func (t Type) Valid() bool {
	_, ok := typeLabels[t]
	return ok
}

// Label returns the human-readable category name.
func (t Type) Label() string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Unknown (" + strconv.Itoa(int(t)) + ")"
}

// ParseType converts the textual report_type sent by a client. Only the
// integer forms of 0, 1 and 2 are accepted.
func ParseType(raw string) (Type, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
	t := Type(n)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidType, n)
	}
	return t, nil
}

// Report is one persisted report. ID and CreatedAt are assigned by the store.
type Report struct {
	ID               int64
	MessageText      string
	ReportType       Type
	ReporterUsername string
	ReportedUsername string
	CreatedAt        time.Time
}

func (r Report) String() string {
	preview := r.MessageText
	if runes := []rune(preview); len(runes) > previewLen {
		preview = string(runes[:previewLen]) + "..."
	}
	return fmt.Sprintf("Report by %s: %s", r.ReporterUsername, preview)
}

// Store persists reports.
type Store interface {
	// Insert stores r and fills in its ID and CreatedAt.
	Insert(ctx context.Context, r *Report) error
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Type  *Type
	Since time.Time
	Limit int
}

// Lister is implemented by stores that can read reports back for export.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Report, error)
}
