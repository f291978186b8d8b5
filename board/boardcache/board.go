// Package boardcache holds the client side board: a three column snapshot that
// is hydrated from a durable local cache or the task service, mutated
// optimistically and reconciled against server lists.
package boardcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/board/localstore"
	"taskboard/task-api/domain"
)

// CacheKey names the durable cache entry holding the snapshot.
const CacheKey = "tasks_v1"

const payloadVersion = 1

type payload struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Columns Snapshot  `json:"columns"`
}

// Source reports where Load found the board.
type Source int

const (
	SourceEmpty Source = iota
	SourceCache
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceRemote:
		return "remote"
	}
	return "empty"
}

// Fetcher lists the tasks visible to the current user.
type Fetcher interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
}

type Board struct {
	mu       sync.Mutex
	snap     Snapshot
	degraded bool

	store        localstore.Store
	fetcher      Fetcher
	fetchTimeout time.Duration
	observer     func(Snapshot)
	logger       *log.Logger
	now          func() time.Time
}

type Option func(*Board)

// WithObserver registers fn to receive a copy of every new snapshot.
func WithObserver(fn func(Snapshot)) Option {
	return func(b *Board) { b.observer = fn }
}

// WithFetchTimeout bounds each remote list call. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(b *Board) { b.fetchTimeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// New builds an empty board. store and fetcher may be nil, in which case the
// board runs purely in memory or offline respectively.
func New(store localstore.Store, fetcher Fetcher, opts ...Option) *Board {
	b := &Board{
		snap:         EmptySnapshot(),
		store:        store,
		fetcher:      fetcher,
		fetchTimeout: 10 * time.Second,
		logger:       log.StandardLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Snapshot returns a copy of the current board.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone()
}

// Degraded reports whether the last durable cache write failed.
func (b *Board) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// Load hydrates the board from the durable cache, falling back to the task
// service and then to an empty board. A remote failure is returned alongside
// SourceEmpty; the board remains usable.
func (b *Board) Load(ctx context.Context) (Source, error) {
	if b.store != nil {
		var p payload
		err := b.store.Load(ctx, CacheKey, &p)
		switch {
		case err == nil && p.Version == payloadVersion:
			b.replace(ctx, p.Columns.Clone(), false)
			return SourceCache, nil
		case err == nil:
			b.logger.WithField("version", p.Version).Warn("ignoring cached board with unknown version")
		case !errors.Is(err, localstore.ErrNotFound):
			b.logger.WithError(err).Warn("read cached board")
		}
	}

	tasks, err := b.fetch(ctx)
	if err != nil {
		b.replace(ctx, EmptySnapshot(), false)
		return SourceEmpty, err
	}
	b.replace(ctx, Group(tasks), true)
	return SourceRemote, nil
}

// Refresh fetches the server list and reconciles the board with it.
func (b *Board) Refresh(ctx context.Context) (bool, error) {
	tasks, err := b.fetch(ctx)
	if err != nil {
		return false, err
	}
	return b.Reconcile(ctx, tasks), nil
}

// Reconcile replaces the board with the grouped server list when the two
// differ. Tasks missing from serverTasks disappear locally.
func (b *Board) Reconcile(ctx context.Context, serverTasks []domain.Task) bool {
	next := Group(serverTasks)
	b.mu.Lock()
	if b.snap.Equal(next) {
		b.mu.Unlock()
		return false
	}
	notify := b.replaceLocked(ctx, next, true)
	b.mu.Unlock()

	notify()
	return true
}

// ApplyLocalMove moves a task to column to at toIndex, clamped to the column
// bounds. The task is looked up in from first and in the other columns after
// that. Moving a task onto its current position changes nothing.
func (b *Board) ApplyLocalMove(ctx context.Context, taskID string, from, to domain.Status, toIndex int) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown column %q", domain.ErrValidation, to)
	}

	b.mu.Lock()
	next := b.snap.Clone()
	src, idx, ok := findIn(next, taskID, from)
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: task %s is not on the board", domain.ErrNotFound, taskID)
	}
	srcCol := next.column(src)
	task := (*srcCol)[idx]
	*srcCol = append((*srcCol)[:idx], (*srcCol)[idx+1:]...)

	dstCol := next.column(to)
	toIndex = max(0, min(toIndex, len(*dstCol)))
	if src == to && toIndex == idx {
		b.mu.Unlock()
		return nil
	}
	task.Status = to
	*dstCol = append((*dstCol)[:toIndex], append([]domain.Task{task}, (*dstCol)[toIndex:]...)...)
	notify := b.replaceLocked(ctx, next, true)
	b.mu.Unlock()

	notify()
	return nil
}

// Upsert places a task returned by the server. A task already in its status
// column is replaced in place; otherwise it is removed from wherever it was
// and prepended to its status column.
func (b *Board) Upsert(ctx context.Context, task domain.Task) {
	task = normalize(task)
	b.mu.Lock()
	next := b.snap.Clone()
	col := next.column(task.Status)
	replaced := false
	for i := range *col {
		if (*col)[i].ID == task.ID {
			(*col)[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		removeID(&next, task.ID)
		col = next.column(task.Status)
		*col = append([]domain.Task{task}, *col...)
	}
	notify := b.replaceLocked(ctx, next, true)
	b.mu.Unlock()

	notify()
}

// Remove drops a task from every column. It reports whether anything changed.
func (b *Board) Remove(ctx context.Context, taskID string) bool {
	b.mu.Lock()
	next := b.snap.Clone()
	if !removeID(&next, taskID) {
		b.mu.Unlock()
		return false
	}
	notify := b.replaceLocked(ctx, next, true)
	b.mu.Unlock()

	notify()
	return true
}

func (b *Board) fetch(ctx context.Context) ([]domain.Task, error) {
	if b.fetcher == nil {
		return nil, fmt.Errorf("%w: no task service configured", domain.ErrRemoteUnavailable)
	}
	if b.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.fetchTimeout)
		defer cancel()
	}
	tasks, err := b.fetcher.ListTasks(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrRemoteUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		}
		return nil, err
	}
	return tasks, nil
}

// replace installs next, persists it when asked and notifies the observer.
func (b *Board) replace(ctx context.Context, next Snapshot, persist bool) {
	b.mu.Lock()
	notify := b.replaceLocked(ctx, next, persist)
	b.mu.Unlock()

	notify()
}

// replaceLocked installs next while b.mu is held. The returned func notifies
// the observer and must be called after the lock is released.
func (b *Board) replaceLocked(ctx context.Context, next Snapshot, persist bool) func() {
	b.snap = next
	if persist {
		b.persistLocked(ctx)
	}
	observer := b.observer
	if observer == nil {
		return func() {}
	}
	view := b.snap.Clone()
	return func() { observer(view) }
}

func (b *Board) persistLocked(ctx context.Context) {
	if b.store == nil {
		return
	}
	p := payload{Version: payloadVersion, SavedAt: b.now().UTC(), Columns: b.snap}
	if err := b.store.Save(ctx, CacheKey, p); err != nil {
		if !b.degraded {
			b.logger.WithError(err).Warn("board cache write failed; continuing in memory")
		}
		b.degraded = true
		return
	}
	if b.degraded {
		b.logger.Info("board cache writes recovered")
	}
	b.degraded = false
}

func findIn(s Snapshot, id string, preferred domain.Status) (domain.Status, int, bool) {
	for i, t := range s.Column(preferred) {
		if t.ID == id {
			return preferred, i, true
		}
	}
	return s.Find(id)
}

func removeID(s *Snapshot, id string) bool {
	removed := false
	for _, st := range domain.Columns {
		col := s.column(st)
		kept := (*col)[:0]
		for _, t := range *col {
			if t.ID == id {
				removed = true
				continue
			}
			kept = append(kept, t)
		}
		*col = kept
	}
	return removed
}
