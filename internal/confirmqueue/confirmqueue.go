// Package confirmqueue implements the bounded queue correlating the MLME
// requests with their outcome.
package confirmqueue

import (
	"github.com/brocaar/chirpstack-device-mac/internal/models"
)

// Size defines the capacity of the queue.
const Size = 5

// Entry defines a queue entry.
type Entry struct {
	Request       models.MlmeType
	Status        models.EventInfoStatus
	ReadyToHandle bool

	// RestrictCommonReadyToHandle excludes the entry from SetCommonStatus.
	RestrictCommonReadyToHandle bool
}

// Queue implements a fixed size ring of entries. The zero value is an empty
// queue.
type Queue struct {
	entries [Size]Entry
	first   int
	count   int

	commonStatus models.EventInfoStatus
}

func (q *Queue) index(i int) int {
	return (q.first + i) % Size
}

// Add appends the entry. It returns false and leaves the queue unchanged when
// the queue is full or when an entry for the same request is already queued.
func (q *Queue) Add(e Entry) bool {
	if q.IsFull() || q.IsActive(e.Request) {
		return false
	}

	q.entries[q.index(q.count)] = e
	q.count++
	return true
}

// RemoveFirst removes the first entry.
func (q *Queue) RemoveFirst() bool {
	if q.count == 0 {
		return false
	}

	q.entries[q.first] = Entry{}
	q.first = q.index(1)
	q.count--
	return true
}

// RemoveLast removes the last entry.
func (q *Queue) RemoveLast() bool {
	if q.count == 0 {
		return false
	}

	q.entries[q.index(q.count-1)] = Entry{}
	q.count--
	return true
}

// First returns the first entry.
func (q *Queue) First() (Entry, bool) {
	if q.count == 0 {
		return Entry{}, false
	}
	return q.entries[q.first], true
}

func (q *Queue) get(req models.MlmeType) *Entry {
	for i := 0; i < q.count; i++ {
		e := &q.entries[q.index(i)]
		if e.Request == req {
			return e
		}
	}
	return nil
}

// SetStatus sets the status of the entry for the given request and marks it
// ready to handle.
func (q *Queue) SetStatus(status models.EventInfoStatus, req models.MlmeType) bool {
	e := q.get(req)
	if e == nil {
		return false
	}

	e.Status = status
	e.ReadyToHandle = true
	return true
}

// GetStatus returns the status of the entry for the given request.
func (q *Queue) GetStatus(req models.MlmeType) (models.EventInfoStatus, bool) {
	e := q.get(req)
	if e == nil {
		return models.EventInfoStatusError, false
	}
	return e.Status, true
}

// SetCommonStatus sets the status of all entries which are not restricted and
// marks them ready to handle.
func (q *Queue) SetCommonStatus(status models.EventInfoStatus) {
	q.commonStatus = status

	for i := 0; i < q.count; i++ {
		e := &q.entries[q.index(i)]
		if e.RestrictCommonReadyToHandle {
			continue
		}
		e.Status = status
		e.ReadyToHandle = true
	}
}

// SetPendingStatus sets the status of the entries which are neither
// restricted nor ready yet and marks them ready to handle.
func (q *Queue) SetPendingStatus(status models.EventInfoStatus) {
	q.commonStatus = status

	for i := 0; i < q.count; i++ {
		e := &q.entries[q.index(i)]
		if e.RestrictCommonReadyToHandle || e.ReadyToHandle {
			continue
		}
		e.Status = status
		e.ReadyToHandle = true
	}
}

// GetCommonStatus returns the last common status.
func (q *Queue) GetCommonStatus() models.EventInfoStatus {
	return q.commonStatus
}

// IsActive returns true when an entry for the given request is queued.
func (q *Queue) IsActive(req models.MlmeType) bool {
	return q.get(req) != nil
}

// Count returns the number of queued entries.
func (q *Queue) Count() int {
	return q.count
}

// IsFull returns true when no entry can be added.
func (q *Queue) IsFull() bool {
	return q.count == Size
}

// HandleCallbacks removes the entries ready to handle and calls f for each
// of them, in FIFO order. The entries which are not ready are compacted in
// place, keeping their order, before any callback runs. Entries added by f
// are queued after them.
func (q *Queue) HandleCallbacks(f func(Entry)) {
	var ready [Size]Entry
	var nReady, kept int

	for i := 0; i < q.count; i++ {
		e := q.entries[q.index(i)]
		if e.ReadyToHandle {
			ready[nReady] = e
			nReady++
			continue
		}
		q.entries[q.index(kept)] = e
		kept++
	}
	for i := kept; i < q.count; i++ {
		q.entries[q.index(i)] = Entry{}
	}
	q.count = kept

	if f == nil {
		return
	}
	for _, e := range ready[:nReady] {
		f(e)
	}
}
