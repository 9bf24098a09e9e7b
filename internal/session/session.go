// Package session persists per-session game state and turn history.
//
// Every driver gives the same two guarantees: a Save carrying a stale Version
// is rejected with ErrVersionConflict, and Acquire hands out at most one lease
// per session id at a time. Different session ids never contend.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

var (
	ErrVersionConflict = errors.New("session version conflict")
	ErrInvalidID       = errors.New("invalid session id")
)

// Record is the mutable per-session state record.
type Record struct {
	ID        string           `yaml:"id" json:"id"`
	State     models.GameState `yaml:"state" json:"state"`
	Version   int64            `yaml:"version" json:"version"` // 0 until first saved
	Spent     float64          `yaml:"spent" json:"spent"`     // cost counter for metered image calls
	CreatedAt time.Time        `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time        `yaml:"updated_at" json:"updated_at"`
}

// Store defines the session storage operations.
type Store interface {
	// Load returns the session record, or a fresh default record with
	// Version 0 when the session does not exist yet.
	Load(ctx context.Context, id string) (*Record, error)

	// Save persists rec if rec.Version matches the stored version (0 for a
	// session that does not exist), then increments rec.Version.
	Save(ctx context.Context, rec *Record) error

	// AppendHistory appends one entry to the session's history log.
	AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error

	// History returns the full history log in turn order.
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)

	// TruncateHistory drops the history entries whose turn is fromTurn or
	// later. It undoes an append whose turn could not be committed.
	TruncateHistory(ctx context.Context, id string, fromTurn int) error

	// Reset removes the state record and history log of a session.
	Reset(ctx context.Context, id string) error

	// Acquire blocks until the caller holds the session's single-writer
	// lease or ctx is done. The returned func releases it.
	Acquire(ctx context.Context, id string) (func(), error)

	// List returns the ids of stored sessions.
	List(ctx context.Context) ([]string, error)

	Close() error
}

// CheckID validates a session id for use as a storage key.
func CheckID(id string) error {
	if !models.ValidSessionID(id) {
		return apperrors.WrapWithMetadata(apperrors.CodeValidation, "check session id",
			map[string]string{"session": id}, ErrInvalidID)
	}
	return nil
}

// Resolve returns id, or fallback when id is blank.
func Resolve(id, fallback string) string {
	if strings.TrimSpace(id) == "" {
		return fallback
	}
	return strings.TrimSpace(id)
}

func newRecord(id string) *Record {
	return &Record{ID: id}
}

// truncate returns the prefix of entries before the first entry at or past
// fromTurn.
func truncate(entries []models.HistoryEntry, fromTurn int) []models.HistoryEntry {
	for i, e := range entries {
		if e.Turn >= fromTurn {
			return entries[:i:i]
		}
	}
	return entries
}

// leases hands out one lease per key; waiting is ctx-aware.
type leases struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLeases() *leases {
	return &leases{slots: make(map[string]chan struct{})}
}

func (l *leases) slot(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

func (l *leases) acquire(ctx context.Context, id string) (func(), error) {
	ch := l.slot(id)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// keyedMutex serialises short critical sections per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
