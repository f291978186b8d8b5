// Package drag turns pointer gestures into board moves. A drop is applied to
// the local board synchronously and committed to the task service in the
// background; remote failures are reported but never undo the local move.
package drag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"taskboard/task-api/domain"
)

// ErrBusy is returned by PointerDown while another drag is in progress.
var ErrBusy = errors.New("drag already in progress")

type State int

const (
	Idle State = iota
	Dragging
	Committing
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	}
	return "idle"
}

type Point struct {
	X, Y float64
}

// Target is a drop position: a column and an index inside it.
type Target struct {
	Column domain.Status
	Index  int
}

// Mover applies a move to the local board.
type Mover interface {
	ApplyLocalMove(ctx context.Context, taskID string, from, to domain.Status, toIndex int) error
}

// Committer persists a status change on the task service.
type Committer interface {
	UpdateStatus(ctx context.Context, taskID string, status domain.Status) error
}

// Failure describes a remote commit that did not succeed.
type Failure struct {
	TaskID string
	To     domain.Status
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("commit %s to %s: %v", f.TaskID, f.To, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Drag is the view of an in-progress drag.
type Drag struct {
	TaskID  string
	Source  Target
	Pointer Point
	Offset  Point
	Target  *Target
}

type Engine struct {
	mu    sync.Mutex
	state State
	drag  Drag

	board         Mover
	remote        Committer
	commitTimeout time.Duration
	failures      chan Failure
	wg            *conc.WaitGroup
	logger        *log.Logger
}

type Option func(*Engine)

// WithCommitTimeout bounds each background commit. Zero leaves commits unbounded.
func WithCommitTimeout(d time.Duration) Option {
	return func(e *Engine) { e.commitTimeout = d }
}

// WithFailureBuffer sets how many undelivered failures are kept before new
// ones are dropped. Negative sizes are treated as zero.
func WithFailureBuffer(n int) Option {
	return func(e *Engine) { e.failures = make(chan Failure, max(n, 0)) }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(board Mover, remote Committer, opts ...Option) *Engine {
	e := &Engine{
		board:    board,
		remote:   remote,
		failures: make(chan Failure, 16),
		wg:       conc.NewWaitGroup(),
		logger:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns the drag in progress, if any.
func (e *Engine) Current() (Drag, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Dragging {
		return Drag{}, false
	}
	d := e.drag
	if d.Target != nil {
		t := *d.Target
		d.Target = &t
	}
	return d, true
}

// PointerDown starts dragging the task at index of column. The board is not touched.
func (e *Engine) PointerDown(taskID string, column domain.Status, index int, pointer, offset Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return ErrBusy
	}
	e.state = Dragging
	e.drag = Drag{
		TaskID:  taskID,
		Source:  Target{Column: column, Index: index},
		Pointer: pointer,
		Offset:  offset,
	}
	return nil
}

// PointerMove tracks the pointer.
func (e *Engine) PointerMove(pointer Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Dragging {
		e.drag.Pointer = pointer
	}
}

// PointerEnter sets the drop target to index of column, where overTaskID is
// the task under the pointer. Hovering the dragged task itself is ignored.
func (e *Engine) PointerEnter(column domain.Status, index int, overTaskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Dragging || overTaskID == e.drag.TaskID {
		return
	}
	e.drag.Target = &Target{Column: column, Index: index}
}

// EnterColumn targets the head of column when it has no tasks to hover.
func (e *Engine) EnterColumn(column domain.Status, columnLen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Dragging || columnLen != 0 {
		return
	}
	e.drag.Target = &Target{Column: column, Index: 0}
}

// PointerUp drops the task. With a target the local board is updated before
// returning and the status change is committed in the background. It reports
// whether a move was applied.
func (e *Engine) PointerUp(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.state != Dragging {
		e.mu.Unlock()
		return false, nil
	}
	d := e.drag
	e.drag = Drag{}
	if d.Target == nil {
		e.state = Idle
		e.mu.Unlock()
		return false, nil
	}
	e.state = Committing
	defer func() {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
	}()
	e.mu.Unlock()

	target := *d.Target
	if err := e.board.ApplyLocalMove(ctx, d.TaskID, d.Source.Column, target.Column, target.Index); err != nil {
		return false, err
	}

	if e.remote != nil {
		commitCtx := context.WithoutCancel(ctx)
		e.wg.Go(func() { e.commit(commitCtx, d.TaskID, target.Column) })
	}
	return true, nil
}

func (e *Engine) commit(ctx context.Context, taskID string, to domain.Status) {
	if e.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commitTimeout)
		defer cancel()
	}
	err := e.remote.UpdateStatus(ctx, taskID, to)
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrRemoteUnavailable) {
		err = fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}

	entry := e.logger.WithFields(log.Fields{"task_id": taskID, "to": to}).WithError(err)
	select {
	case e.failures <- Failure{TaskID: taskID, To: to, Err: err}:
		entry.Warn("remote status update failed")
	default:
		entry.Error("remote status update failed; failure channel full")
	}
}

// Failures delivers remote commit failures.
func (e *Engine) Failures() <-chan Failure {
	return e.failures
}

// Wait blocks until every commit started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
