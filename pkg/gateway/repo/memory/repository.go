package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const (
	DefaultPoolSize       = 10
	DefaultAcquireTimeout = 10 * time.Second
)

// Stats counts finished transactions
type Stats struct {
	Commits   int
	Rollbacks int
}

// Repository is an in-memory implementation of gateway.Repository. It mimics
// a bounded connection pool: at most PoolSize transactions run at once and
// inserts only become visible on commit.
type Repository struct {
	mu             sync.RWMutex
	records        map[string]gateway.FileRecord
	stats          Stats
	insertErr      error
	commitErr      error
	now            func() time.Time
	slots          chan struct{}
	acquireTimeout time.Duration
}

// Option configures a Repository
type Option func(*Repository)

// WithPoolSize bounds the number of concurrent transactions
func WithPoolSize(size int) Option {
	return func(r *Repository) {
		if size > 0 {
			r.slots = make(chan struct{}, size)
		}
	}
}

// WithAcquireTimeout sets how long WithTx waits for a free slot
func WithAcquireTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.acquireTimeout = d
	}
}

// WithClock sets the clock used for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a new in-memory repository
func New(opts ...Option) *Repository {
	r := &Repository{
		records:        make(map[string]gateway.FileRecord),
		now:            time.Now,
		slots:          make(chan struct{}, DefaultPoolSize),
		acquireTimeout: DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx gateway.Tx) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	tx := &memTx{repo: r}

	committed := false
	defer func() {
		if committed {
			return
		}
		r.mu.Lock()
		r.stats.Rollbacks++
		r.mu.Unlock()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := r.commit(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *Repository) acquire(ctx context.Context) error {
	timer := time.NewTimer(r.acquireTimeout)
	defer timer.Stop()

	select {
	case r.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return &gateway.TxError{Op: "acquire", Err: fmt.Errorf("no connection available after %s", r.acquireTimeout)}
	case <-ctx.Done():
		return &gateway.TxError{Op: "acquire", Err: ctx.Err()}
	}
}

func (r *Repository) release() {
	<-r.slots
}

func (r *Repository) commit(tx *memTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.commitErr != nil {
		return &gateway.TxError{Op: "commit", Err: r.commitErr}
	}
	for _, rec := range tx.pending {
		if _, exists := r.records[rec.FileKey]; exists {
			return &gateway.TxError{Op: "commit", Err: duplicateError(rec.FileKey)}
		}
	}
	for _, rec := range tx.pending {
		r.records[rec.FileKey] = rec
	}
	r.stats.Commits++
	return nil
}

// GetFileRecord returns a committed record
func (r *Repository) GetFileRecord(ctx context.Context, fileKey string) (*gateway.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[fileKey]
	if !exists {
		return nil, fmt.Errorf("file record %s: %w", fileKey, gateway.ErrNotFound)
	}
	return &rec, nil
}

// SetInsertError makes every following insert fail with err. Pass nil to reset.
func (r *Repository) SetInsertError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertErr = err
}

// SetCommitError makes every following commit fail with err. Pass nil to reset.
func (r *Repository) SetCommitError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitErr = err
}

// Len returns the number of committed records
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Stats returns transaction counters
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

type memTx struct {
	repo    *Repository
	pending []gateway.FileRecord
}

func (t *memTx) InsertFileRecord(ctx context.Context, rec *gateway.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.repo.mu.RLock()
	insertErr := t.repo.insertErr
	_, exists := t.repo.records[rec.FileKey]
	now := t.repo.now()
	t.repo.mu.RUnlock()

	if insertErr != nil {
		return insertErr
	}
	if exists {
		return duplicateError(rec.FileKey)
	}
	for _, p := range t.pending {
		if p.FileKey == rec.FileKey {
			return duplicateError(rec.FileKey)
		}
	}

	rec.CreatedAt = now.UTC()
	t.pending = append(t.pending, *rec)
	return nil
}

func duplicateError(fileKey string) error {
	return fmt.Errorf("file key %s: %w", fileKey, gateway.ErrDuplicateKey)
}
