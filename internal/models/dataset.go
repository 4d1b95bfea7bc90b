package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dataset is a full tenant snapshot: every live record per entity table
type Dataset struct {
	Tables   map[string][]Record
	SyncTime time.Time
}

// NewDataset returns a dataset with an empty array for every syncable table
func NewDataset(syncTime time.Time) Dataset {
	tables := make(map[string][]Record, len(SyncableEntities))
	for _, name := range SyncableEntities {
		tables[name] = []Record{}
	}
	return Dataset{Tables: tables, SyncTime: syncTime}
}

// Count returns the number of records across all tables
func (d Dataset) Count() int {
	n := 0
	for _, recs := range d.Tables {
		n += len(recs)
	}
	return n
}

// MarshalJSON writes {<table>: [...], ..., syncTime}
func (d Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Tables)+1)
	for name, recs := range d.Tables {
		if recs == nil {
			recs = []Record{}
		}
		out[name] = recs
	}
	out["syncTime"] = d.SyncTime.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode dataset: %w", err)
	}

	ds := Dataset{Tables: make(map[string][]Record, len(raw))}
	for k, v := range raw {
		if k == "syncTime" {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("syncTime must be a string: %w", err)
			}
			if s != "" {
				ts, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return fmt.Errorf("syncTime is not an RFC 3339 timestamp: %w", err)
				}
				ds.SyncTime = ts.UTC()
			}
			continue
		}
		var recs []Record
		if err := json.Unmarshal(v, &recs); err != nil {
			return fmt.Errorf("table %s: %w", k, err)
		}
		ds.Tables[k] = recs
	}

	*d = ds
	return nil
}
