package store

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"taskrpc/internal/codec"
)

type table struct {
	pk     string
	fields map[string]struct{}
	nextID int64
	rows   []Record
}

func (t *table) clone() *table {
	out := &table{pk: t.pk, fields: t.fields, nextID: t.nextID, rows: make([]Record, len(t.rows))}
	for i, r := range t.rows {
		out.rows[i] = maps.Clone(r)
	}
	return out
}

type txKey struct{}

// Memory is a Store kept in process memory. Each Atomic scope holds the
// write lock of the whole store and restores a snapshot when it fails.
// Reads outside a scope wait for the active scope, so they never see
// writes that are later rolled back.
type Memory struct {
	tx     sync.Mutex
	lock   sync.RWMutex
	tables map[string]*table
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*table)}
}

// RegisterModel declares a model and its primary key field. When fields are
// given, writes naming any other field fail with ErrValidation.
func (s *Memory) RegisterModel(name, pk string, fields ...string) {
	t := &table{pk: pk}
	if len(fields) > 0 {
		t.fields = map[string]struct{}{pk: {}}
		for _, f := range fields {
			t.fields[f] = struct{}{}
		}
	}
	s.lock.Lock()
	s.tables[name] = t
	s.lock.Unlock()
}

// Models lists the registered model names.
func (s *Memory) Models() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Memory) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Memory)
	return owner == s
}

// Atomic runs fn in a write scope. A scope opened while another one of the
// same store is active on ctx joins it.
func (s *Memory) Atomic(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.tx.Lock()
	defer s.tx.Unlock()

	snapshot := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snapshot)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Memory) snapshot() map[string]*table {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[string]*table, len(s.tables))
	for name, t := range s.tables {
		out[name] = t.clone()
	}
	return out
}

func (s *Memory) restore(tables map[string]*table) {
	s.lock.Lock()
	s.tables = tables
	s.lock.Unlock()
}

// write runs fn under the write lock, taking the scope lock first when ctx
// is not inside a scope of s.
func (s *Memory) write(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.tx.Lock()
		defer s.tx.Unlock()
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn()
}

// read is write for lookups: it waits for an active scope unless ctx is
// inside it, then takes the read lock.
func (s *Memory) read(ctx context.Context, fn func() error) error {
	if !s.inTx(ctx) {
		s.tx.Lock()
		defer s.tx.Unlock()
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return fn()
}

func (s *Memory) tableLocked(model string) (*table, error) {
	t, ok := s.tables[model]
	if !ok {
		return nil, ErrModelNotFound.With(model)
	}
	return t, nil
}

func (s *Memory) PrimaryKey(model string) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, err := s.tableLocked(model)
	if err != nil {
		return "", err
	}
	return t.pk, nil
}

func (s *Memory) Filter(ctx context.Context, model string, q Query) (rows []Record, err error) {
	err = s.read(ctx, func() error {
		rows, err = s.filterLocked(model, q)
		return err
	})
	return rows, err
}

func (s *Memory) filterLocked(model string, q Query) ([]Record, error) {
	t, err := s.tableLocked(model)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0)
	for _, row := range t.rows {
		ok, err := matchAll(row, t.pk, q.Filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if len(q.Exclude) > 0 {
			excluded, err := matchAll(row, t.pk, q.Exclude)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}
		}
		out = append(out, maps.Clone(row))
	}

	if len(q.OrderBy) > 0 {
		sortRecords(out, q.OrderBy, t.pk)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func sortRecords(rows []Record, orderBy []string, pk string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range orderBy {
			desc := strings.HasPrefix(key, "-")
			field := strings.TrimPrefix(key, "-")
			if field == "pk" {
				field = pk
			}
			c, _ := compare(rows[i][field], rows[j][field])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func (s *Memory) indexLocked(t *table, field string, value any) (int, error) {
	if field == "pk" {
		field = t.pk
	}
	found := -1
	for i, row := range t.rows {
		if !equal(row[field], value) {
			continue
		}
		if found >= 0 {
			return -1, ErrMultipleObjects.Errorf("%s=%v matches more than one record", field, value)
		}
		found = i
	}
	if found < 0 {
		return -1, ErrNotFound.Errorf("no record with %s=%v", field, value)
	}
	return found, nil
}

func (s *Memory) Get(ctx context.Context, model, field string, value any) (rec Record, err error) {
	err = s.read(ctx, func() error {
		t, err := s.tableLocked(model)
		if err != nil {
			return err
		}
		i, err := s.indexLocked(t, field, value)
		if err != nil {
			return err
		}
		rec = maps.Clone(t.rows[i])
		return nil
	})
	return rec, err
}

func validate(t *table, data Record) error {
	if t.fields == nil {
		return nil
	}
	for f := range data {
		if _, ok := t.fields[f]; !ok {
			return ErrValidation.Errorf("unknown field %q", f)
		}
	}
	return nil
}

func normalizeRecord(data Record) Record {
	if data == nil {
		return Record{}
	}
	return codec.Canonical(data).(map[string]any)
}

func (s *Memory) Create(ctx context.Context, model string, data Record) (Record, error) {
	rec := normalizeRecord(data)
	var out Record
	err := s.write(ctx, func() error {
		t, err := s.tableLocked(model)
		if err != nil {
			return err
		}
		if err := validate(t, rec); err != nil {
			return err
		}
		if id, ok := rec[t.pk]; ok && id != nil {
			if _, err := s.indexLocked(t, t.pk, id); err == nil {
				return ErrValidation.Errorf("%s with %s=%v already exists", model, t.pk, id)
			}
			if n, ok := id.(int64); ok && n > t.nextID {
				t.nextID = n
			}
		} else {
			t.nextID++
			rec[t.pk] = t.nextID
		}
		t.rows = append(t.rows, rec)
		out = maps.Clone(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Memory) Update(ctx context.Context, model, field string, value any, data Record) (Record, error) {
	rec := normalizeRecord(data)
	var out Record
	err := s.write(ctx, func() error {
		t, err := s.tableLocked(model)
		if err != nil {
			return err
		}
		if err := validate(t, rec); err != nil {
			return err
		}
		i, err := s.indexLocked(t, field, value)
		if err != nil {
			return err
		}
		row := maps.Clone(t.rows[i])
		maps.Copy(row, rec)
		t.rows[i] = row
		out = maps.Clone(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Memory) Delete(ctx context.Context, model, field string, value any) error {
	return s.write(ctx, func() error {
		t, err := s.tableLocked(model)
		if err != nil {
			return err
		}
		i, err := s.indexLocked(t, field, value)
		if err != nil {
			return err
		}
		t.rows = append(t.rows[:i:i], t.rows[i+1:]...)
		return nil
	})
}

var _ Store = (*Memory)(nil)
