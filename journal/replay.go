package journal

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/sysmaster-go/sysmaster/errs"
)

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Replay reads every record ever appended to the journal and groups it by
// table, in snapshot order (oldest first): every table loads back into
// in-memory state before coldplug and the last-frame compensation pass
// run. Within a table, callers see records in append order; the last
// write for a given key is whichever Record comes last in that table's
// slice.
func (s *Store) Replay(ctx context.Context) (map[string][]Record, error) {
	snaps, err := s.dataset.Snapshots(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "journal.Store.Replay", "", err)
	}

	out := make(map[string][]Record)
	for _, snap := range snaps {
		items, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, "journal.Store.Replay", "", err)
		}
		for _, item := range items {
			rec, ok := decodeRecord(item)
			if !ok {
				continue
			}
			out[rec.Table] = append(out[rec.Table], rec)
		}
	}

	for table := range out {
		recs := out[table]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].At.Before(recs[j].At) })
		out[table] = recs
	}
	return out, nil
}

func decodeRecord(item any) (Record, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return Record{}, false
	}
	table, _ := m["table"].(string)
	unit, _ := m["unit"].(string)
	key, _ := m["key"].(string)
	if table == "" || key == "" {
		return Record{}, false
	}

	var value []byte
	switch v := m["value"].(type) {
	case []byte:
		value = v
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
			value = decoded
		}
	}

	id, _ := m["id"].(string)
	rec := Record{ID: id, Table: table, Unit: unit, Key: key, Value: value}
	if at, ok := m["at"].(string); ok {
		if t, err := parseTimestamp(at); err == nil {
			rec.At = t
		}
	}
	return rec, true
}
