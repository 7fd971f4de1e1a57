// Package store keeps the client's local copy of farm entities and the
// durable backups of their uncommitted edits in a single pebble DB.
//
// Key space, one prefix byte each:
//
//	'O' kind 0x00 id               -> JSON-encoded entity record
//	'B' kind 0x00 type 0x00 id 0x00 route -> newline-joined JSON deltas
package store

import (
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/jgaehring/field-kit/filter"
	"github.com/jgaehring/field-kit/utils"
	"github.com/pkg/errors"
)

var ErrClosed = errors.New("no store open")
var ErrBadRecord = errors.New("cached record has no id")

var WriteOptions = pebble.WriteOptions{Sync: true}

type Options struct {
	Logger utils.Logger
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelError)
	}
}

type Store struct {
	db   *pebble.DB
	dir  string
	log  utils.Logger
	opts Options
}

func Open(dir string, opts Options) (*Store, error) {
	opts.SetDefaults()
	popts := pebble.Options{
		Merger: &pebble.Merger{
			Name:  "fieldkit",
			Merge: merger,
		},
	}
	db, err := pebble.Open(dir, &popts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dir: dir, log: opts.Logger, opts: opts}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	_ = s.db.Close()
	s.db = nil
	return nil
}

func (s *Store) DB() *pebble.DB {
	return s.db
}

func RecordKey(kind, id string) (key []byte) {
	key = append(key, 'O')
	key = append(key, kind...)
	key = append(key, 0)
	key = append(key, id...)
	return
}

func recordKeyRange(kind string) (fro, til []byte) {
	fro = RecordKey(kind, "")
	til = append(append([]byte{'O'}, kind...), 1)
	return
}

// Put caches one entity record, keyed by its id field.
func (s *Store) Put(kind string, record map[string]any) error {
	if s.db == nil {
		return ErrClosed
	}
	id, _ := record["id"].(string)
	if id == "" {
		return ErrBadRecord
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encoding cached record")
	}
	return s.db.Set(RecordKey(kind, id), raw, &WriteOptions)
}

// Get returns the cached records of a kind matching the filter. An id
// filter is a point lookup; anything else scans the kind's key range.
func (s *Store) Get(kind string, f filter.Filter) (records []map[string]any, err error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if f.ID != "" {
		val, clo, gerr := s.db.Get(RecordKey(kind, f.ID))
		if gerr == pebble.ErrNotFound {
			return nil, nil
		}
		if gerr != nil {
			return nil, gerr
		}
		record := map[string]any{}
		err = json.Unmarshal(val, &record)
		_ = clo.Close()
		if err != nil {
			return nil, err
		}
		if filter.Match(f, record) {
			records = append(records, record)
		}
		return
	}

	fro, til := recordKeyRange(kind)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: fro,
		UpperBound: til,
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	match := filter.Compile(f)
	for it.First(); it.Valid(); it.Next() {
		record := map[string]any{}
		if uerr := json.Unmarshal(it.Value(), &record); uerr != nil {
			s.log.Warn("skipping undecodable cached record", "key", string(it.Key()), "err", uerr)
			continue
		}
		if match(record) {
			records = append(records, record)
		}
	}
	return
}
