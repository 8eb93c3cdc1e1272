package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Vector maps a []float32 onto a pgvector column. GORM caches schemas by
// type, so a dedicated column type beats per-call-site literal building.
type Vector []float32

func (Vector) GormDataType() string {
	return "vector"
}

// Value renders the pgvector input literal, e.g. "[0.1,0.2,0.3]".
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw string
	switch s := src.(type) {
	case string:
		raw = s
	case []byte:
		raw = string(s)
	default:
		return fmt.Errorf("vector: cannot scan %T", src)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return errors.New("vector: malformed literal")
	}
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("vector: bad element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// IsZero reports whether every element is exactly zero. Embedding providers
// return all-zero vectors on upstream failure; those must never be stored.
func (v Vector) IsZero() bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
