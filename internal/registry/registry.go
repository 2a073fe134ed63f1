// Package registry keeps the durable set of destination chat ids.
//
// The set lives in a JSON array file that is rewritten in full on every
// mutation. All read-modify-write sequences run under one mutex and reload the
// file first, so concurrent Add/Remove calls never lose each other's updates.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"relaybot/pkg/fsutil"
	logx "relaybot/pkg/logx"
)

type Registry struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func New(path string, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{path: path, log: log}
}

func (r *Registry) Path() string { return r.path }

// Load returns the sorted set of chat ids. A missing or corrupt file yields an
// empty set.
func (r *Registry) Load(ctx context.Context) []int64 {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Contains reports whether id is registered.
func (r *Registry) Contains(ctx context.Context, id int64) bool {
	_, found := slices.BinarySearch(r.Load(ctx), id)
	return found
}

// Add inserts id and reports whether it was newly added.
func (r *Registry) Add(ctx context.Context, id int64) bool {
	added := false
	r.update(ctx, "add", func(set map[int64]struct{}) bool {
		if _, ok := set[id]; ok {
			return false
		}
		set[id] = struct{}{}
		added = true
		return true
	}, logx.Int64("chat_id", id))
	return added
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(ctx context.Context, id int64) bool {
	removed := false
	r.update(ctx, "remove", func(set map[int64]struct{}) bool {
		if _, ok := set[id]; !ok {
			return false
		}
		delete(set, id)
		removed = true
		return true
	}, logx.Int64("chat_id", id))
	return removed
}

// Migrate replaces oldID with newID in one locked update. newID is added even
// when oldID was not registered.
func (r *Registry) Migrate(ctx context.Context, oldID, newID int64) {
	r.update(ctx, "migrate", func(set map[int64]struct{}) bool {
		_, hadOld := set[oldID]
		_, hadNew := set[newID]
		delete(set, oldID)
		set[newID] = struct{}{}
		return hadOld || !hadNew
	}, logx.Int64("old_chat_id", oldID), logx.Int64("new_chat_id", newID))
}

// update reloads the file, applies fn and persists when fn reports a change.
func (r *Registry) update(ctx context.Context, op string, fn func(set map[int64]struct{}) bool, fields ...logx.Field) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.loadLocked()
	set := make(map[int64]struct{}, len(ids)+1)
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if !fn(set) {
		return
	}
	if err := r.saveLocked(set); err != nil {
		r.log.Warn("registry save failed; change kept in memory only",
			append(fields, logx.String("op", op), logx.String("path", r.path), logx.Err(err))...)
		return
	}
	r.log.Info("registry updated", append(fields, logx.String("op", op), logx.Int("count", len(set)))...)
}

func (r *Registry) loadLocked() []int64 {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Error("registry read failed", logx.String("path", r.path), logx.Err(err))
		}
		return []int64{}
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return []int64{}
	}

	var raw []any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		r.log.Error("registry file corrupt; treating as empty", logx.String("path", r.path), logx.Err(err))
		return []int64{}
	}

	seen := make(map[int64]struct{}, len(raw))
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := parseID(v)
		if err != nil {
			r.log.Warn("registry entry skipped", logx.String("path", r.path), logx.Any("entry", v), logx.Err(err))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) saveLocked(set map[int64]struct{}) error {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	b, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(r.path, append(b, '\n'), 0o644)
}

// parseID accepts JSON integers and strings holding an integer.
func parseID(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if id, err := x.Int64(); err == nil {
			return id, nil
		}
		f, err := x.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return 0, fmt.Errorf("not an integer: %s", x)
		}
		return int64(f), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a numeric string: %q", x)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
