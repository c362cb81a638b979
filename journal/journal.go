// Package journal implements the reliability journal: an append-only
// per-table key-value log plus a single last-frame marker used to resume
// mid-transaction after a crash or re-exec. Tables are Lode datasets
// partitioned by (table, unit); the last-frame marker is a small mutable
// file written with a temp-then-rename swap since Lode's own storage
// model is append-only and has no notion of overwriting a single record
// in place.
package journal

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/lode/lode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/log"
)

// tableDataset is the fixed Lode dataset id every journal table lives
// under; individual tables are a partition value, not a separate dataset,
// so a single coldplug pass can enumerate every table's history at once.
const tableDataset = "sysmaster-journal"

// Store is the reliability journal: one Lode dataset holding every table's
// append-only records, plus a last-frame marker file.
type Store struct {
	dataset lode.Dataset
	frame   *frameFile
	log     *log.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger attaches a logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore opens the journal backed by factory (lode.NewFSFactory for the
// default on-disk backend, or an S3-backed factory), persisting the
// last-frame marker under stateDir.
func NewStore(factory lode.StoreFactory, stateDir string, opts ...Option) (*Store, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(tableDataset),
		factory,
		lode.WithHiveLayout("table", "unit"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "journal.NewStore", "", err)
	}

	s := &Store{dataset: ds, frame: newFrameFile(stateDir)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record is one (key, value) entry appended to a table. ID is a fresh
// envelope id minted at append time, independent of the numeric
// types.JobId/types.UnitId a record's Key may reference, so replay can
// de-duplicate or audit individual writes without parsing Value.
type Record struct {
	ID    string
	Table string
	Unit  string
	Key   string
	Value []byte
	At    time.Time
}

// Append writes one key/value pair to table, scoped to unit (use "" for
// tables that aren't per-unit, e.g. jtrigger/jsuspends/um-notify). value is
// msgpack-encoded before storage so any Go value the caller already has
// round-trips without the journal needing to know its concrete type.
func (s *Store) Append(ctx context.Context, table, unit, key string, value any) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.KindIO, "journal.Store.Append", unit, err)
	}

	// value travels through the dataset's JSONL codec as a generic
	// map[string]any, so it must already be a JSON string on the wire;
	// base64 keeps the msgpack bytes opaque to that round trip instead of
	// relying on encoding/json's byte-slice-to-base64 special case, which
	// only applies when decoding into a concrete []byte, not interface{}.
	rec := map[string]any{
		"id":    uuid.NewString(),
		"table": table,
		"unit":  unit,
		"key":   key,
		"value": base64.StdEncoding.EncodeToString(encoded),
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.dataset.Write(ctx, []any{rec}, lode.Metadata{}); err != nil {
		if s.log != nil {
			s.log.Error("journal append failed", map[string]any{"table": table, "unit": unit, "key": key, "err": err.Error()})
		}
		return errs.Wrap(errs.KindIO, "journal.Store.Append", unit, err)
	}
	if s.log != nil {
		s.log.Debug("journal append", map[string]any{"table": table, "unit": unit, "key": key})
	}
	return nil
}

// DecodeValue unmarshals a Record's msgpack-encoded Value into out.
func DecodeValue(rec Record, out any) error {
	if err := msgpack.Unmarshal(rec.Value, out); err != nil {
		return fmt.Errorf("journal: decode value for table %q key %q: %w", rec.Table, rec.Key, err)
	}
	return nil
}
