package store

import (
	"bytes"
	"encoding/json"
	"io"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// Handle addresses one entity's backup record.
type Handle struct {
	key []byte
}

func BackupKey(kind, typ, id, route string) (key []byte) {
	key = append(key, 'B')
	for _, part := range []string{kind, typ, id, route} {
		key = append(key, part...)
		key = append(key, 0)
	}
	return key[:len(key)-1]
}

// Restore fetches the deltas recorded for an entity before the last
// shutdown, in the order they were recorded.
func (s *Store) Restore(kind, typ, id, route string) (h *Handle, deltas []map[string]any, err error) {
	if s.db == nil {
		return nil, nil, ErrClosed
	}
	h = &Handle{key: BackupKey(kind, typ, id, route)}
	val, clo, gerr := s.db.Get(h.key)
	if gerr == pebble.ErrNotFound {
		return h, nil, nil
	}
	if gerr != nil {
		return h, nil, gerr
	}
	dec := json.NewDecoder(bytes.NewReader(val))
	for {
		delta := map[string]any{}
		derr := dec.Decode(&delta)
		if derr == io.EOF {
			break
		}
		if derr != nil {
			err = errors.Wrap(derr, "decoding backup delta")
			break
		}
		deltas = append(deltas, delta)
	}
	_ = clo.Close()
	return
}

// Record durably appends one field delta to the entity's backup.
// Appending goes through the pebble merge operator, so concurrent
// writers never clobber each other.
func (s *Store) Record(h *Handle, delta map[string]any) error {
	if s.db == nil {
		return ErrClosed
	}
	raw, err := json.Marshal(delta)
	if err != nil {
		return errors.Wrap(err, "encoding backup delta")
	}
	return s.db.Merge(h.key, append(raw, '\n'), &WriteOptions)
}

// Clear drops the entity's backup once its edits are committed.
func (s *Store) Clear(h *Handle) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete(h.key, &WriteOptions)
}

// mergeAdaptor concatenates backup deltas oldest to newest.
type mergeAdaptor struct {
	old  bool
	vals [][]byte
}

func (a *mergeAdaptor) MergeNewer(value []byte) error {
	target := make([]byte, len(value))
	copy(target, value)
	a.vals = append(a.vals, target)
	return nil
}

func (a *mergeAdaptor) MergeOlder(value []byte) error {
	target := make([]byte, len(value))
	copy(target, value)
	a.vals = append(a.vals, target)
	a.old = true
	return nil
}

func (a *mergeAdaptor) Finish(includesBase bool) (res []byte, cl io.Closer, err error) {
	if a.old {
		slices.Reverse(a.vals)
	}
	for _, val := range a.vals {
		res = append(res, val...)
	}
	return res, nil, nil
}

func merger(key, value []byte) (pebble.ValueMerger, error) {
	target := make([]byte, len(value))
	copy(target, value)
	return &mergeAdaptor{vals: [][]byte{target}}, nil
}
