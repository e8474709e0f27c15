package services

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yeremiapane/order-sync/models"
)

// Reconciler owns the authoritative order collection. Writers are
// serialized by mu; readers load an immutable snapshot.
type Reconciler struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]models.OrderRecord]
	onChange func([]models.OrderRecord)
}

func NewReconciler() *Reconciler {
	r := &Reconciler{}
	empty := []models.OrderRecord{}
	r.snapshot.Store(&empty)
	return r
}

// OnChange registers a hook called with the new snapshot after every
// mutation that changed the collection. It runs under the writer lock and
// must not call back into the Reconciler's mutating methods.
func (r *Reconciler) OnChange(fn func([]models.OrderRecord)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Snapshot returns the current collection sorted by (CreatedAt, ID). The
// slice is shared and must not be modified.
func (r *Reconciler) Snapshot() []models.OrderRecord {
	return *r.snapshot.Load()
}

func (r *Reconciler) Len() int { return len(r.Snapshot()) }

func (r *Reconciler) Get(id string) (models.OrderRecord, bool) {
	for _, o := range r.Snapshot() {
		if o.ID == id {
			return o.Clone(), true
		}
	}
	return models.OrderRecord{}, false
}

// ApplyFullSnapshot rebuilds the collection from a poll or refresh. A held
// record with a newer UpdatedAt survives a stale copy in records, and
// placeholders the server does not know yet are kept.
func (r *Reconciler) ApplyFullSnapshot(records []models.OrderRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.indexLocked()
	next := make(map[string]models.OrderRecord, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		incoming := rec.Clone()
		incoming.Placeholder = false
		if seen, dup := next[rec.ID]; dup && !newerOrEqual(incoming, seen) {
			continue
		}
		if held, ok := current[rec.ID]; ok && !held.Placeholder && held.UpdatedAt > incoming.UpdatedAt {
			next[rec.ID] = held
			continue
		}
		next[rec.ID] = incoming
	}
	for id, held := range current {
		if _, ok := next[id]; !ok && held.Placeholder {
			next[id] = held
		}
	}

	return r.publishLocked(next)
}

// ApplyIncremental upserts one record by id. An existing record is
// replaced unless it is newer than the incoming one; placeholders are
// always replaced. It reports whether the collection changed.
func (r *Reconciler) ApplyIncremental(rec models.OrderRecord) bool {
	if rec.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.indexLocked()
	incoming := rec.Clone()
	if held, ok := current[rec.ID]; ok {
		if !held.Placeholder && held.UpdatedAt > incoming.UpdatedAt {
			return false
		}
		if incoming.CreatedAt == 0 {
			incoming.CreatedAt = held.CreatedAt
		}
	}
	current[rec.ID] = incoming
	return r.publishLocked(current)
}

// AddPlaceholder inserts an optimistic record that the first authoritative
// record with the same id replaces wholesale.
func (r *Reconciler) AddPlaceholder(rec models.OrderRecord) bool {
	if rec.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.indexLocked()
	if _, ok := current[rec.ID]; ok {
		return false
	}
	placeholder := rec.Clone()
	placeholder.Placeholder = true
	current[rec.ID] = placeholder
	return r.publishLocked(current)
}

func (r *Reconciler) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.indexLocked()
	if _, ok := current[id]; !ok {
		return false
	}
	delete(current, id)
	return r.publishLocked(current)
}

func (r *Reconciler) ByPhone(phone string) []models.OrderRecord {
	return r.filter(func(o models.OrderRecord) bool { return o.CustomerPhone == phone })
}

func (r *Reconciler) ByUserID(userID string) []models.OrderRecord {
	return r.filter(func(o models.OrderRecord) bool { return o.UserID == userID })
}

// ByRestaurantID matches restaurant ids case-insensitively.
func (r *Reconciler) ByRestaurantID(restaurantID string) []models.OrderRecord {
	return r.filter(func(o models.OrderRecord) bool { return strings.EqualFold(o.RestaurantID, restaurantID) })
}

func (r *Reconciler) ByPaymentSession(sessionID string) []models.OrderRecord {
	return r.filter(func(o models.OrderRecord) bool { return o.PaymentSessionID == sessionID })
}

func (r *Reconciler) filter(keep func(models.OrderRecord) bool) []models.OrderRecord {
	var out []models.OrderRecord
	for _, o := range r.Snapshot() {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (r *Reconciler) indexLocked() map[string]models.OrderRecord {
	current := r.Snapshot()
	idx := make(map[string]models.OrderRecord, len(current)+1)
	for _, o := range current {
		idx[o.ID] = o
	}
	return idx
}

// publishLocked sorts the new collection and swaps it in when it differs
// from the current one.
func (r *Reconciler) publishLocked(next map[string]models.OrderRecord) bool {
	sorted := make([]models.OrderRecord, 0, len(next))
	for _, o := range next {
		sorted = append(sorted, o)
	}
	sort.Slice(sorted, func(i, j int) bool { return models.Less(sorted[i], sorted[j]) })

	if reflect.DeepEqual(sorted, r.Snapshot()) {
		return false
	}
	r.snapshot.Store(&sorted)
	if r.onChange != nil {
		r.onChange(sorted)
	}
	return true
}

func newerOrEqual(a, b models.OrderRecord) bool { return a.UpdatedAt >= b.UpdatedAt }
