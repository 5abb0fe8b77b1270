package repositories

import (
	"time"

	"github.com/Dosada05/presenza-calcio/db"
)

// timeFormat is used for every timestamp column; the columns are TEXT on all backends.
const timeFormat = time.RFC3339Nano

func checkAffectedRows(rowsAffected int64, notFoundError error) error {
	if rowsAffected == 0 {
		return notFoundError
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// parseTime is lenient: rows written by older clients carry browser ISO strings,
// and an unparsable value becomes the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// getExecutor returns exec when the caller runs inside a transaction, else the default querier.
func getExecutor(def db.Querier, exec db.Querier) db.Querier {
	if exec != nil {
		return exec
	}
	return def
}
