// Package aggregate defines the ordered score index that backs the
// leaderboard, along with an in-memory implementation.
//
// Entries are ordered by Key ascending and, within a key, by insertion order.
// At walks from the top: offset 0 is the highest key, and among equal keys the
// most recently inserted entry comes first.
package aggregate

import "errors"

var (
	ErrStaleEntry     = errors.New("aggregate: entry not present with that key")
	ErrDuplicateEntry = errors.New("aggregate: id already indexed")
	ErrOutOfRange     = errors.New("aggregate: offset out of range")
)

type Entry struct {
	Key int    `json:"key"`
	ID  string `json:"id"`
}

type Bound struct {
	Key       int
	Inclusive bool
}

// Bounds restricts a scan to keys between Lower and Upper. A nil side is open.
type Bounds struct {
	Lower *Bound
	Upper *Bound
}

// Above selects keys strictly greater than key.
func Above(key int) Bounds {
	return Bounds{Lower: &Bound{Key: key}}
}

// From selects keys greater than or equal to key.
func From(key int) Bounds {
	return Bounds{Lower: &Bound{Key: key, Inclusive: true}}
}

type Index interface {
	Count(b Bounds) (int, error)
	At(offset int) (Entry, error)
	// Paginate returns up to pageSize entries inside b, ascending from the
	// lower bound.
	Paginate(b Bounds, pageSize int) ([]Entry, error)
	Insert(e Entry) error
	Remove(e Entry) error
	Clear() error
}

// Replace moves an indexed id from its old key to a new one. The old entry
// must be present exactly as given.
func Replace(ix Index, old, updated Entry) error {
	if err := ix.Remove(old); err != nil {
		return err
	}
	return ix.Insert(updated)
}
