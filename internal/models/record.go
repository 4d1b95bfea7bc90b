package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// systemFields are the record keys owned by the sync engine. Everything else is
// entity payload and passes through untouched.
var systemFields = map[string]struct{}{
	"id":         {},
	"tenant_id":  {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
	"deleted":    {},
}

// Record is the versioned shape shared by every synchronizable entity
// (property, unit, lease, payment, invoice, ...). Entity-specific fields are
// opaque to the engine and kept in Fields.
type Record struct {
	ID        string
	TenantID  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
	Fields    map[string]any
}

// Validate checks the invariants every record must hold before it is queued or merged
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if r.Version < 0 {
		return fmt.Errorf("record %s has negative version %d", r.ID, r.Version)
	}
	return nil
}

// Clone returns a copy whose Fields map can be modified independently
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Get returns an entity field
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Set stores an entity field. System keys are ignored.
func (r *Record) Set(key string, value any) {
	if _, sys := systemFields[key]; sys {
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
}

// MarshalJSON writes the record as one flat object: system fields next to entity fields
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		if _, sys := systemFields[k]; sys {
			continue
		}
		out[k] = v
	}

	out["id"] = r.ID
	out["tenant_id"] = r.TenantID
	out["version"] = r.Version
	if !r.CreatedAt.IsZero() {
		out["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !r.UpdatedAt.IsZero() {
		out["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.Deleted {
		out["deleted"] = true
	}

	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object into system fields and entity payload
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("record must be a JSON object")
	}

	rec := Record{Fields: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "id":
			s, err := stringField(k, v)
			if err != nil {
				return err
			}
			rec.ID = s
		case "tenant_id":
			s, err := stringField(k, v)
			if err != nil {
				return err
			}
			rec.TenantID = s
		case "version":
			n, err := versionField(v)
			if err != nil {
				return err
			}
			rec.Version = n
		case "created_at", "updated_at":
			ts, err := timeField(k, v)
			if err != nil {
				return err
			}
			if k == "created_at" {
				rec.CreatedAt = ts
			} else {
				rec.UpdatedAt = ts
			}
		case "deleted":
			b, ok := v.(bool)
			if !ok && v != nil {
				return fmt.Errorf("field deleted must be a boolean")
			}
			rec.Deleted = b
		default:
			rec.Fields[k] = v
		}
	}

	*r = rec
	return nil
}

func stringField(key string, v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		// numeric ids coming from older clients
		return val.String(), nil
	default:
		return "", fmt.Errorf("field %s must be a string", key)
	}
}

func versionField(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			if n < 0 {
				return 0, fmt.Errorf("version must be non-negative, got %d", n)
			}
			return n, nil
		}
		f, err := val.Float64()
		if err != nil || f != math.Trunc(f) || f < 0 {
			return 0, fmt.Errorf("version must be a non-negative integer, got %s", val)
		}
		// float64(MaxInt64) rounds up to 2^63
		if f >= math.MaxInt64 {
			return 0, fmt.Errorf("version out of range: %s", val)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("version must be a number")
	}
}

func timeField(key string, v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if val == "" {
			return time.Time{}, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s is not an RFC 3339 timestamp: %w", key, err)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("field %s must be a timestamp string", key)
	}
}
