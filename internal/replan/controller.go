// Package replan drives the step list: it reacts to user actions, decides
// when a new plan stream is needed, and splices streamed steps into the
// store without touching steps the user has finished or marked stuck.
package replan

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/planclient"
	"github.com/rahul/makeprogress/internal/progress"
	"github.com/rahul/makeprogress/internal/protocol"
	"github.com/rahul/makeprogress/internal/store"
)

// Status texts shown to the user.
const (
	StatusWaiting     = "等待一句话的任务描述。"
	StatusEmptyTask   = "先写下你要做的事情。"
	StatusSplitting   = "拆解中…"
	StatusStreaming   = "流式生成中…"
	StatusReady       = "完成后随时调整。"
	StatusNothing     = "没有生成任何步骤。"
	StatusFailed      = "出错了，请稍后再试。"
	StatusServerError = "生成失败"
)

var (
	ErrEmptyTask = errors.New("task is empty")
	ErrClosed    = errors.New("controller closed")
)

// Stream yields decoded events of one plan request.
type Stream interface {
	Next() (protocol.Event, error)
	Close() error
}

// Planner opens plan streams. Canceling ctx must make a blocked Next
// return.
type Planner interface {
	Open(ctx context.Context, task string, history []protocol.CompletedStep, offset int) (Stream, error)
}

// FromClient adapts a planclient.Client to Planner.
func FromClient(c *planclient.Client) Planner {
	return clientPlanner{c}
}

type clientPlanner struct {
	c *planclient.Client
}

func (p clientPlanner) Open(ctx context.Context, task string, history []protocol.CompletedStep, offset int) (Stream, error) {
	s, err := p.c.Open(ctx, task, history, offset)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type NoticeKind string

const (
	NoticeAlert     NoticeKind = "alert"
	NoticeCelebrate NoticeKind = "celebrate"
)

// Notice is a one-shot signal for the presentation layer.
type Notice struct {
	Kind      NoticeKind
	Message   string
	StepIndex int
}

// Snapshot is the full observable state after a change.
type Snapshot struct {
	Task      string
	Status    string
	Steps     []store.Step
	Progress  progress.Progress
	Streaming bool
	SessionID string
}

// Observer receives every change. Calls are serialised and made without
// the controller lock held, but an observer must not call controller
// actions synchronously.
type Observer interface {
	Changed(Snapshot)
	Notice(Notice)
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func WithLogger(l *observability.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the step store and at most one live plan stream.
type Controller struct {
	planner  Planner
	observer Observer
	log      *observability.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	task    string
	steps   *store.Store
	status  string
	live    *session
	closed  bool
	pending []Notice

	emitMu sync.Mutex
}

// session is the controller's handle on one stream. It is live while
// Controller.live points at it; events from any other handle are dropped.
type session struct {
	id       string
	offset   int
	cancel   context.CancelFunc
	done     chan struct{}
	appended int
	failed   bool
}

func New(planner Planner, opts ...Option) *Controller {
	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		planner: planner,
		ctx:     ctx,
		stop:    stop,
		steps:   store.NewStore(),
		status:  StatusWaiting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts planning a new task from scratch.
func (c *Controller) Submit(task string) error {
	task = strings.TrimSpace(task)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if task == "" {
		c.status = StatusEmptyTask
		c.mu.Unlock()
		c.emit()
		return ErrEmptyTask
	}
	c.supersedeLocked()
	c.task = task
	c.steps.Reset()
	c.triggerLocked(true)
	c.mu.Unlock()

	c.emit()
	return nil
}

// Start marks a step as being worked on. It never streams.
func (c *Controller) Start(index int) error {
	c.mu.Lock()
	_, err := c.transitionLocked(index, store.StateInProgress)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.emit()
	return nil
}

// Complete marks a step done. A non-blank answer on the step triggers a
// replan; a blank one does not.
func (c *Controller) Complete(index int) error {
	c.mu.Lock()
	step, err := c.transitionLocked(index, store.StateDone)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending = append(c.pending, Notice{Kind: NoticeCelebrate, StepIndex: index})
	if strings.TrimSpace(step.FeedbackAnswer) != "" {
		c.triggerLocked(false)
	}
	c.mu.Unlock()

	c.emit()
	return nil
}

// MarkStuck marks a step stuck and always replans.
func (c *Controller) MarkStuck(index int) error {
	c.mu.Lock()
	if _, err := c.transitionLocked(index, store.StateStuck); err != nil {
		c.mu.Unlock()
		return err
	}
	c.triggerLocked(false)
	c.mu.Unlock()

	c.emit()
	return nil
}

// SetFeedback edits a step's answer. It only changes what the next replan
// sends.
func (c *Controller) SetFeedback(index int, answer string) error {
	c.mu.Lock()
	_, err := c.steps.SetFeedback(index, answer)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.emit()
	return nil
}

// Reset drops the task and every step and cancels any live stream.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.supersedeLocked()
	c.task = ""
	c.steps.Reset()
	c.status = StatusWaiting
	c.mu.Unlock()

	c.emit()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no stream is live.
func (c *Controller) Wait() {
	for {
		c.mu.Lock()
		s := c.live
		c.mu.Unlock()
		if s == nil {
			return
		}
		<-s.done
	}
}

// Close cancels the live stream and waits for every reader to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.supersedeLocked()
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

func (c *Controller) transitionLocked(index int, to store.State) (store.Step, error) {
	step, from, err := c.steps.Transition(index, to)
	if err != nil {
		return step, err
	}
	c.log.LogTransition(index, string(from), string(to))
	return step, nil
}

// triggerLocked replaces the volatile part of the store and opens a new
// stream continuing from the current history.
func (c *Controller) triggerLocked(resetAll bool) {
	if c.closed || c.task == "" {
		return
	}
	c.supersedeLocked()

	history := BuildHistory(c.steps.Steps())
	offset := 0
	if resetAll {
		c.steps.Reset()
	} else {
		offset = c.steps.DropVolatile()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	s := &session{
		id:     uuid.NewString(),
		offset: offset,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.live = s
	c.status = StatusStreaming
	if resetAll {
		c.status = StatusSplitting
	}
	c.log.LogReplan(c.task, resetAll, len(history), offset)

	c.wg.Add(1)
	go c.run(ctx, s, c.task, history)
}

func (c *Controller) supersedeLocked() {
	if c.live == nil {
		return
	}
	c.live.cancel()
	c.live = nil
}

func (c *Controller) run(ctx context.Context, s *session, task string, history []protocol.CompletedStep) {
	defer c.wg.Done()
	defer close(s.done)

	stream, err := c.planner.Open(ctx, task, history, s.offset)
	if err != nil {
		c.finish(s, err)
		return
	}
	defer stream.Close()
	c.opened(s)

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.finish(s, err)
			return
		}
		if !c.apply(s, ev) {
			return
		}
	}
}

// opened moves a first submission from splitting to streaming once the
// response has started.
func (c *Controller) opened(s *session) {
	c.mu.Lock()
	if c.live != s || c.status != StatusSplitting {
		c.mu.Unlock()
		return
	}
	c.status = StatusStreaming
	c.mu.Unlock()

	c.emit()
}

// apply lands one event in the store. It reports false once s is no longer
// the live session; nothing is applied in that case.
func (c *Controller) apply(s *session, ev protocol.Event) bool {
	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return false
	}

	switch ev.Type {
	case protocol.EventStep:
		step := c.newStepLocked(s, *ev.Step)
		if err := c.steps.Append(step); err != nil {
			c.log.Warnf("dropping step from session %s: %v", s.id, err)
		} else {
			s.appended++
			c.log.LogStep(s.id, step.Index, step.Title)
		}
	case protocol.EventError:
		msg := ev.Error.Message
		if strings.TrimSpace(msg) == "" {
			msg = StatusServerError
		}
		s.failed = true
		c.status = msg
		c.pending = append(c.pending, Notice{Kind: NoticeAlert, Message: msg})
		c.log.LogServerError(s.id, msg)
	}
	c.mu.Unlock()

	c.emit()
	return true
}

// newStepLocked numbers a streamed step as offset + local index. A number
// that would not be above the current last index is moved just past it.
func (c *Controller) newStepLocked(s *session, p protocol.StepPayload) store.Step {
	index := s.offset + p.Index
	floor := 0
	if last, ok := c.steps.Last(); ok {
		floor = last.Index + 1
	}
	if index < floor {
		c.log.Warnf("session %s: step index %d collides, renumbered to %d", s.id, index, floor)
		index = floor
	}

	minutes := p.EstimateMinutes
	if minutes < 0 {
		minutes = 0
	}
	return store.Step{
		Index:            index,
		Title:            p.Title,
		Subtitle:         p.Subtitle,
		EstimateMinutes:  minutes,
		FeedbackQuestion: p.FeedbackQuestion,
		State:            store.StateIdle,
	}
}

func (c *Controller) finish(s *session, err error) {
	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return
	}
	c.live = nil
	s.cancel()

	switch {
	case errors.Is(err, planclient.ErrCanceled) || errors.Is(err, context.Canceled):
	case err != nil:
		msg := failureMessage(err)
		c.status = msg
		c.pending = append(c.pending, Notice{Kind: NoticeAlert, Message: msg})
	case s.failed:
	case s.appended == 0:
		c.status = StatusNothing
	default:
		c.status = StatusReady
	}
	c.log.LogSessionEnd(s.id, s.appended, err)
	c.mu.Unlock()

	c.emit()
}

func failureMessage(err error) string {
	var terr *planclient.TransportError
	if errors.As(err, &terr) && terr.Status != 0 && terr.Message != "" {
		return terr.Message
	}
	return StatusFailed
}

func (c *Controller) snapshotLocked() Snapshot {
	steps := c.steps.Steps()
	snap := Snapshot{
		Task:     c.task,
		Status:   c.status,
		Steps:    steps,
		Progress: progress.Aggregate(steps),
	}
	if c.live != nil {
		snap.Streaming = true
		snap.SessionID = c.live.id
	}
	return snap
}

// emit hands the latest state and queued notices to the observer.
func (c *Controller) emit() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	snap := c.snapshotLocked()
	notices := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.observer == nil {
		return
	}
	for _, n := range notices {
		c.observer.Notice(n)
	}
	c.observer.Changed(snap)
}
