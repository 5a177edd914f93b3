package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/matthewbaird/signalintel/internal/types"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(time.RFC3339Nano, raw); err2 == nil {
		return t, nil
	}
	return time.Time{}, &types.DecodeError{Field: field, Value: raw, Err: err}
}

func decodeNullTime(field string, raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := decodeTime(field, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeHistory(h []types.EscalationEntry) (string, error) {
	if h == nil {
		h = []types.EscalationEntry{}
	}
	b, err := json.Marshal(h)
	return string(b), err
}

func decodeHistory(raw string) ([]types.EscalationEntry, error) {
	if raw == "" {
		return []types.EscalationEntry{}, nil
	}
	var h []types.EscalationEntry
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, &types.DecodeError{Field: "escalation_history", Value: raw, Err: err}
	}
	return h, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

func decodeIDs(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, &types.DecodeError{Field: "signal_ids", Value: raw, Err: err}
	}
	return ids, nil
}
