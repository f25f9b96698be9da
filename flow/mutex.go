package flow

import (
	"math"
	"sync"
	"time"

	"github.com/BaSui01/botflow/types"
)

// mutexLease is how long an editing lease lasts after the last write.
const mutexLease = 30 * time.Second

// Mutex is the editing lease attached to a flow being modified. It
// guards concurrent authoring, not dialog execution.
type Mutex struct {
	LastModifiedBy   string    `json:"lastModifiedBy"`
	LastModifiedAt   time.Time `json:"lastModifiedAt"`
	RemainingSeconds int       `json:"remainingSeconds,omitempty"`
}

func remainingSeconds(lastModifiedAt, now time.Time) int {
	free := lastModifiedAt.Add(mutexLease)
	if !free.After(now) {
		return 0
	}
	return int(math.Ceil(free.Sub(now).Seconds()))
}

// mutexTable tracks editing leases per flow for one bot.
type mutexTable struct {
	mu     sync.Mutex
	leases map[string]*Mutex
}

func newMutexTable() *mutexTable {
	return &mutexTable{leases: map[string]*Mutex{}}
}

// lock renews the lease when editor already owns it or the previous one
// expired; otherwise it fails with MutexError.
func (t *mutexTable) lock(flowName, editor string, now time.Time) (*Mutex, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.leases[flowName]
	if current != nil && current.LastModifiedBy != editor && remainingSeconds(current.LastModifiedAt, now) > 0 {
		return nil, &types.MutexError{Flow: flowName, Owner: current.LastModifiedBy}
	}

	lease := &Mutex{LastModifiedBy: editor, LastModifiedAt: now}
	t.leases[flowName] = lease
	return &Mutex{
		LastModifiedBy:   editor,
		LastModifiedAt:   now,
		RemainingSeconds: remainingSeconds(now, now),
	}, nil
}

// peek returns the current lease with its remaining time, or nil.
func (t *mutexTable) peek(flowName string, now time.Time) *Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.leases[flowName]
	if current == nil {
		return nil
	}
	return &Mutex{
		LastModifiedBy:   current.LastModifiedBy,
		LastModifiedAt:   current.LastModifiedAt,
		RemainingSeconds: remainingSeconds(current.LastModifiedAt, now),
	}
}
