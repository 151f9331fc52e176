package transfer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/events"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/ratelimit"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// SettingsSource supplies queue settings. It is consulted at every dispatch,
// so changes apply to later workers only. *config.Store implements it.
type SettingsSource interface {
	QueueSettings(queue string) config.QueueSettings
}

type staticSettings config.QueueSettings

func (s staticSettings) QueueSettings(string) config.QueueSettings {
	return config.QueueSettings(s)
}

// Options configures a Manager.
type Options struct {
	// Queue selects the settings section, config.QueueUpload or
	// config.QueueDownload.
	Queue       string
	Client      remote.Client
	Credentials credentials.Provider
	Settings    SettingsSource
	// Limiters is shared between managers that should throttle together.
	Limiters *ratelimit.Shared
	Events   *events.EventBus
	Logger   *logging.Logger
}

// Stats holds queue statistics.
type Stats struct {
	Pending    int
	Running    int
	Cancelling int
	Completed  int
	Failed     int
	Cancelled  int

	// Session counters
	Submitted int
	Finished  int
	Settled   bool
}

// Total returns the number of tasks in the registry.
func (s Stats) Total() int {
	return s.Pending + s.Running + s.Cancelling + s.Completed + s.Failed + s.Cancelled
}

// CancelReport says what CancelAll did.
type CancelReport struct {
	// Requested is the number of running tasks asked to stop.
	Requested int
	// Dropped is the number of pending tasks cancelled and removed.
	Dropped int
}

// session tracks one batch: from the first enqueue after the queue was idle
// until pending and active are both empty again.
type session struct {
	open      bool
	settled   bool
	started   time.Time
	ended     time.Time
	submitted int
	finished  int
	completed int
	failed    int
	cancelled int
}

func (s session) summary() BatchSummary {
	end := s.ended
	if end.IsZero() {
		end = time.Now()
	}
	sum := BatchSummary{
		Submitted: s.submitted,
		Completed: s.completed,
		Failed:    s.failed,
		Cancelled: s.cancelled,
	}
	if !s.started.IsZero() {
		sum.Duration = end.Sub(s.started)
	}
	return sum
}

// Manager bounds the number of concurrently running workers and owns every
// task. All state lives on one control goroutine; public methods send it
// requests and workers send it notes.
type Manager struct {
	opts Options

	reqs  chan func()
	notes chan note
	done  chan struct{}

	stopped   chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the control goroutine.
	pending  []*Task
	active   map[string]*Worker
	order    []string // active ids in dispatch order
	registry map[string]*Task
	sess     session
	waiters  []chan struct{}
	warned   string
}

// NewManager starts a manager. Call Close (or Shutdown) when done.
func NewManager(opts Options) *Manager {
	if opts.Queue == "" {
		opts.Queue = config.QueueUpload
	}
	if opts.Settings == nil {
		opts.Settings = staticSettings(config.QueueSettings{
			MaxConcurrency: constants.DefaultMaxConcurrency,
		})
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Limiters == nil {
		opts.Limiters = &ratelimit.Shared{Logger: opts.Logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:     opts,
		reqs:     make(chan func()),
		notes:    make(chan note, constants.NotificationBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*Worker),
		registry: make(map[string]*Task),
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.reqs:
			fn()
		case n := <-m.notes:
			m.apply(n)
		case <-m.done:
			return
		}
	}
}

// call runs fn on the control goroutine and waits for it.
func (m *Manager) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case m.reqs <- func() { fn(); close(ran) }:
	case <-m.done:
		return ErrManagerClosed
	}
	select {
	case <-ran:
		return nil
	case <-m.stopped:
		select {
		case <-ran:
			return nil
		default:
			return ErrManagerClosed
		}
	}
}

// Enqueue validates p, creates a Pending task and dispatches.
func (m *Manager) Enqueue(p Params) (Task, error) {
	tasks, err := m.EnqueueBatch([]Params{p})
	if err != nil {
		return Task{}, err
	}
	return tasks[0], nil
}

// EnqueueBatch validates every entry first; if any is invalid nothing is
// enqueued. Tasks keep the order of ps.
func (m *Manager) EnqueueBatch(ps []Params) ([]Task, error) {
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	var out []Task
	err := m.call(func() {
		if !m.sess.open {
			m.sess = session{open: true, started: time.Now()}
		}
		for _, p := range ps {
			t := newTask(p)
			m.pending = append(m.pending, t)
			m.registry[t.ID] = t
			m.sess.submitted++
			m.publishTask(events.EventTaskQueued, t)
			out = append(out, t.Clone())
		}
		m.dispatch()
	})
	return out, err
}

// dispatch starts workers while there is capacity and pending work, then
// checks whether the session settled. It never blocks.
func (m *Manager) dispatch() {
	if len(m.pending) > 0 {
		s := m.settings()
		limit := s.MaxConcurrency
		if limit < 1 {
			limit = constants.DefaultMaxConcurrency
		}
		for len(m.active) < limit && len(m.pending) > 0 {
			t := m.pending[0]
			m.pending[0] = nil
			m.pending = m.pending[1:]
			m.start(t, s)
		}
	}
	m.checkSettled()
}

func (m *Manager) settings() config.QueueSettings {
	s := m.opts.Settings.QueueSettings(m.opts.Queue)
	if len(s.Warnings) == 0 {
		m.warned = ""
		return s
	}

	var keys []string
	for _, w := range s.Warnings {
		keys = append(keys, w.String())
	}
	if joined := strings.Join(keys, "\n"); joined != m.warned {
		m.warned = joined
		for _, w := range s.Warnings {
			m.opts.Logger.Warn().Str("key", w.Key).Msg(w.Message)
			m.publish(&events.ConfigWarningEvent{
				BaseEvent: events.BaseEvent{EventType: events.EventConfigWarning, Time: time.Now()},
				Key:       w.Key,
				Message:   w.Message,
			})
		}
	}
	return s
}

func (m *Manager) start(t *Task, s config.QueueSettings) {
	t.Status = StatusRunning
	t.StartedAt = time.Now()

	w := newWorker(m.ctx, t, m.opts.Client, m.opts.Credentials,
		m.opts.Limiters.For(s.RateLimitDelay), m.opts.Logger, m.notes, m.done)
	m.active[t.ID] = w
	m.order = append(m.order, t.ID)

	m.opts.Logger.Debug().Str("task_id", t.ID).Str("kind", string(t.Kind)).
		Int("active", len(m.active)).Int("limit", s.MaxConcurrency).Msg("dispatched task")
	m.publishTask(events.EventTaskStarted, t)
	go w.run()
}

func (m *Manager) checkSettled() {
	if len(m.pending) != 0 || len(m.active) != 0 {
		return
	}
	if m.sess.open && m.sess.submitted > 0 {
		m.sess.open = false
		m.sess.settled = true
		m.sess.ended = time.Now()
		sum := m.sess.summary()
		m.opts.Logger.Info().Int("submitted", sum.Submitted).Int("completed", sum.Completed).
			Int("failed", sum.Failed).Int("cancelled", sum.Cancelled).Msg(sum.String())
		m.publish(&events.SettledEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventQueueSettled, Time: time.Now()},
			Submitted: sum.Submitted,
			Completed: sum.Completed,
			Failed:    sum.Failed,
			Cancelled: sum.Cancelled,
			Outcome:   string(sum.Outcome()),
			Message:   sum.String(),
			Duration:  sum.Duration,
		})
	}
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
}

func (m *Manager) apply(n note) {
	t, ok := m.registry[n.taskID]
	if _, running := m.active[n.taskID]; !ok || !running {
		return
	}

	switch n.kind {
	case noteProgress:
		p := n.progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		if p > t.Progress {
			t.Progress = p
			m.publishTask(events.EventTaskProgress, t)
		}

	case noteStatus:
		t.Message = n.message
		m.publishTask(events.EventTaskStatus, t)

	case noteFinished:
		m.finish(t, n)
	}
}

func (m *Manager) finish(t *Task, n note) {
	t.Status = n.outcome
	if t.Status != StatusCompleted && t.Status != StatusCancelled {
		t.Status = StatusFailed
	}
	if t.Status != StatusCancelled {
		t.Progress = 100
	}
	t.Message = n.message
	t.Err = n.err
	t.ErrKind = Classify(n.err)
	t.FinishedAt = time.Now()

	delete(m.active, t.ID)
	m.dropOrder(t.ID)

	m.sess.finished++
	switch t.Status {
	case StatusCompleted:
		m.sess.completed++
	case StatusFailed:
		m.sess.failed++
	case StatusCancelled:
		m.sess.cancelled++
	}
	m.publishTask(events.EventTaskFinished, t)

	if t.Status == StatusCompleted && m.settings().AutoClearCompleted {
		delete(m.registry, t.ID)
		m.publishTask(events.EventTaskRemoved, t)
	}

	m.dispatch()
}

func (m *Manager) dropOrder(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) removePending(id string) bool {
	for i, t := range m.pending {
		if t.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// cancelPending finishes a pending task as Cancelled and drops it.
func (m *Manager) cancelPending(t *Task) {
	t.Status = StatusCancelled
	t.Message = "cancelled before start"
	t.ErrKind = ErrKindCancelled
	t.Err = ErrCancelled
	t.FinishedAt = time.Now()
	delete(m.registry, t.ID)
	m.sess.finished++
	m.sess.cancelled++
	m.publishTask(events.EventTaskFinished, t)
	m.publishTask(events.EventTaskRemoved, t)
}

// requestCancel asks a running worker to stop.
func (m *Manager) requestCancel(t *Task, w *Worker) {
	t.Status = StatusCancelling
	t.Message = "cancelling"
	w.Cancel()
	m.publishTask(events.EventTaskCancelling, t)
}

// CancelAll requests cancellation of every running task and cancels every
// pending one immediately. Running tasks become Cancelled once their worker
// reports back.
func (m *Manager) CancelAll() (CancelReport, error) {
	var rep CancelReport
	err := m.call(func() {
		for _, id := range m.order {
			t := m.registry[id]
			if t.Status == StatusRunning {
				m.requestCancel(t, m.active[id])
				rep.Requested++
			}
		}
		for _, t := range m.pending {
			m.cancelPending(t)
			rep.Dropped++
		}
		m.pending = nil
		m.checkSettled()
	})
	return rep, err
}

// Cancel cancels one task.
func (m *Manager) Cancel(id string) error {
	var opErr error
	err := m.call(func() {
		t, ok := m.registry[id]
		if !ok {
			opErr = ErrTaskNotFound
			return
		}
		switch {
		case t.Status == StatusPending:
			m.removePending(id)
			m.cancelPending(t)
			m.checkSettled()
		case t.Status == StatusRunning:
			m.requestCancel(t, m.active[id])
		case t.Status == StatusCancelling:
			opErr = &InvalidOperationError{Op: "cancel", TaskID: id, Reason: "cancellation already requested"}
		default:
			opErr = &InvalidOperationError{Op: "cancel", TaskID: id, Reason: "task already " + string(t.Status)}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Remove drops a task that is not running. Pending tasks are withdrawn from
// the session.
func (m *Manager) Remove(id string) error {
	var opErr error
	err := m.call(func() {
		if _, running := m.active[id]; running {
			opErr = &InvalidOperationError{Op: "remove", TaskID: id, Reason: "task is running, cancel it first"}
			return
		}
		t, ok := m.registry[id]
		if !ok {
			opErr = ErrTaskNotFound
			return
		}
		if m.removePending(id) {
			m.sess.submitted--
		}
		delete(m.registry, id)
		m.publishTask(events.EventTaskRemoved, t)
		m.checkSettled()
	})
	if err != nil {
		return err
	}
	return opErr
}

// ClearPending removes every pending task. Running tasks are untouched.
func (m *Manager) ClearPending() (int, error) {
	var n int
	err := m.call(func() {
		for _, t := range m.pending {
			delete(m.registry, t.ID)
			m.publishTask(events.EventTaskRemoved, t)
		}
		n = len(m.pending)
		m.sess.submitted -= n
		m.pending = nil
		m.checkSettled()
	})
	return n, err
}

// VisibleTasks returns running tasks in dispatch order followed by pending
// tasks in queue order.
func (m *Manager) VisibleTasks() []Task {
	var out []Task
	m.call(func() {
		out = make([]Task, 0, len(m.order)+len(m.pending))
		for _, id := range m.order {
			out = append(out, m.registry[id].Clone())
		}
		for _, t := range m.pending {
			out = append(out, t.Clone())
		}
	})
	return out
}

// Tasks returns every task in the registry: visible tasks first, then
// finished ones by finish time.
func (m *Manager) Tasks() []Task {
	var out []Task
	m.call(func() {
		seen := make(map[string]bool)
		for _, id := range m.order {
			out = append(out, m.registry[id].Clone())
			seen[id] = true
		}
		for _, t := range m.pending {
			out = append(out, t.Clone())
			seen[t.ID] = true
		}
		var rest []Task
		for id, t := range m.registry {
			if !seen[id] {
				rest = append(rest, t.Clone())
			}
		}
		sortByFinish(rest)
		out = append(out, rest...)
	})
	return out
}

// OverallProgress is round(100 * finished / submitted) for the current or
// most recently settled session.
func (m *Manager) OverallProgress() int {
	var p int
	m.call(func() {
		p = percent(int64(m.sess.finished), int64(m.sess.submitted))
	})
	return p
}

// Task returns a snapshot of one task.
func (m *Manager) Task(id string) (Task, error) {
	var (
		out Task
		ok  bool
	)
	if err := m.call(func() {
		var t *Task
		if t, ok = m.registry[id]; ok {
			out = t.Clone()
		}
	}); err != nil {
		return Task{}, err
	}
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return out, nil
}

// Stats counts tasks by status.
func (m *Manager) Stats() Stats {
	var s Stats
	m.call(func() {
		for _, t := range m.registry {
			switch t.Status {
			case StatusPending:
				s.Pending++
			case StatusRunning:
				s.Running++
			case StatusCancelling:
				s.Cancelling++
			case StatusCompleted:
				s.Completed++
			case StatusFailed:
				s.Failed++
			case StatusCancelled:
				s.Cancelled++
			}
		}
		s.Submitted = m.sess.submitted
		s.Finished = m.sess.finished
		s.Settled = m.sess.settled
	})
	return s
}

// Summary returns the counters of the current or last session.
func (m *Manager) Summary() BatchSummary {
	var sum BatchSummary
	m.call(func() {
		sum = m.sess.summary()
	})
	return sum
}

// Wait blocks until pending and active are both empty.
func (m *Manager) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	if err := m.call(func() {
		if len(m.pending) == 0 && len(m.active) == 0 {
			close(ch)
			return
		}
		m.waiters = append(m.waiters, ch)
	}); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrManagerClosed
	}
}

// Shutdown cancels everything and waits for workers to stop. If ctx expires
// first the manager is closed anyway and ErrForcedShutdown is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	if _, err := m.CancelAll(); err != nil {
		return err
	}
	err := m.Wait(ctx)
	m.Close()
	if err != nil && ctx.Err() != nil {
		m.opts.Logger.Warn().Msg("workers did not stop in time, abandoning them")
		return ErrForcedShutdown
	}
	return err
}

// Close stops the control goroutine and cancels the context of any running
// worker. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped
		m.cancel()
		for _, w := range m.active {
			w.Cancel()
		}
	})
}

func sortByFinish(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].FinishedAt.Before(tasks[j].FinishedAt)
	})
}

func (m *Manager) publish(e events.Event) {
	if m.opts.Events != nil {
		m.opts.Events.Publish(e)
	}
}

func (m *Manager) publishTask(et events.EventType, t *Task) {
	if m.opts.Events == nil {
		return
	}
	e := events.NewTaskEvent(et, t.ID, string(t.Kind), t.Name())
	e.Status = string(t.Status)
	e.Progress = t.Progress
	e.Message = t.Message
	e.Err = t.Err
	m.publish(e)
}
