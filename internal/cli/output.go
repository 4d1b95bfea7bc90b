package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xelth-com/rentsync/internal/models"
	syncer "github.com/xelth-com/rentsync/internal/sync"
)

// output writes data as JSON, or calls text for the human format
func output(w io.Writer, format string, data interface{}, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(w)
	return nil
}

func printState(w io.Writer, s syncer.State) {
	fmt.Fprintf(w, "status:          %s\n", s.Status)
	fmt.Fprintf(w, "online:          %t\n", s.IsOnline)
	fmt.Fprintf(w, "sync enabled:    %t\n", s.SyncEnabled)
	fmt.Fprintf(w, "tenant:          %s\n", orDash(s.TenantID))
	fmt.Fprintf(w, "pending changes: %d\n", s.PendingChanges)
	if s.LastSyncTime != nil {
		fmt.Fprintf(w, "last sync:       %s\n", s.LastSyncTime.Local().Format(time.RFC1123))
	} else {
		fmt.Fprintf(w, "last sync:       never\n")
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(w, "error:           %s\n", s.ErrorMessage)
	}
	for _, r := range s.LastPushReport {
		if r.Status == models.ItemAccepted {
			continue
		}
		line := fmt.Sprintf("  %s %s/%s (server v%d)", r.Status, r.Entity, r.ID, r.StoredVersion)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printRecords(w io.Writer, recs []models.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no records")
		return
	}
	for _, r := range recs {
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, fmt.Sprintf("%s=%v", k, r.Fields[k]))
		}
		fmt.Fprintf(w, "%s  v%d  %s\n", r.ID, r.Version, strings.Join(fields, " "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
