// ABOUTME: Per-user debounced inbound queue that merges bursts of text into one turn
// ABOUTME: Drains after a quiet window and hands calls to a serial worker per user

package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/media"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("inbound queue closed")

const (
	DefaultWindow   = 2 * time.Second
	DefaultMediaGap = 500 * time.Millisecond
)

// Kind distinguishes text payloads, which are merged, from media payloads,
// which are dispatched one by one.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Payload is one inbound event from the transport.
type Payload struct {
	Kind  Kind
	Text  string       // KindText
	Media *media.Media // KindMedia
	// EventID is the transport's id for the event, used only for logging.
	EventID    string
	ReceivedAt time.Time
}

// Text builds a text payload.
func Text(s string) Payload {
	return Payload{Kind: KindText, Text: s, ReceivedAt: time.Now()}
}

// Attachment builds a media payload.
func Attachment(m media.Media) Payload {
	return Payload{Kind: KindMedia, Media: &m, ReceivedAt: time.Now()}
}

// Handler processes one dispatched call. Errors are logged by the queue.
type Handler func(ctx context.Context, userID string, p Payload) error

// Options configures a Queue.
type Options struct {
	// Window is the quiet period after the first buffered payload. Defaults to 2s.
	Window time.Duration
	// MediaGap is the pause between dispatches within one drain. Defaults to 500ms.
	MediaGap time.Duration
	// SeenTTL and SeenSize bound the event id dedupe set.
	SeenTTL  time.Duration
	SeenSize int
	Logger   *slog.Logger
}

// userState is guarded by Queue.mu.
type userState struct {
	buf       []Payload
	scheduled bool
	timer     *time.Timer
	jobs      []Payload
	running   bool
}

func (s *userState) idle() bool {
	return len(s.buf) == 0 && !s.scheduled && len(s.jobs) == 0 && !s.running
}

// Queue buffers payloads per user and dispatches them after a quiet window.
type Queue struct {
	handler  Handler
	window   time.Duration
	mediaGap time.Duration
	seenSet  *seenSet
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	users   map[string]*userState
	closed  bool
	dropped int // payloads discarded because of Close
}

// New creates a Queue that dispatches to handler.
func New(handler Handler, opts Options) *Queue {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MediaGap <= 0 {
		opts.MediaGap = DefaultMediaGap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		handler:  handler,
		window:   opts.Window,
		mediaGap: opts.MediaGap,
		seenSet:  newSeenSet(opts.SeenTTL, opts.SeenSize),
		logger:   opts.Logger.With("component", "inbound"),
		ctx:      ctx,
		cancel:   cancel,
		users:    make(map[string]*userState),
	}
}

// Seen reports whether a transport event id was already accepted, marking it
// if not. Transports call it before Enqueue to drop redeliveries.
func (q *Queue) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	return q.seenSet.seen(eventID)
}

// Enqueue buffers p for userID and starts the user's debounce window if none
// is running.
func (q *Queue) Enqueue(userID string, p Payload) error {
	if p.Kind == KindMedia && p.Media == nil {
		return fmt.Errorf("inbound: media payload without media")
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	st, ok := q.users[userID]
	if !ok {
		st = &userState{}
		q.users[userID] = st
	}
	st.buf = append(st.buf, p)
	q.logger.Debug("enqueued", "user_id", userID, "kind", p.Kind, "event_id", p.EventID, "buffered", len(st.buf))

	if !st.scheduled {
		st.scheduled = true
		q.armLocked(userID, st)
		q.logger.Debug("scheduled", "user_id", userID, "window", q.window)
	}
	return nil
}

// armLocked starts the debounce timer. The timer holds a WaitGroup slot
// until its drain finishes or Close stops it.
func (q *Queue) armLocked(userID string, st *userState) {
	q.wg.Add(1)
	st.timer = time.AfterFunc(q.window, func() { q.drain(userID) })
}

// drain takes the user's buffer and dispatches it: merged text first, then
// each media payload, pausing MediaGap between dispatches.
func (q *Queue) drain(userID string) {
	defer q.wg.Done()

	q.mu.Lock()
	st := q.users[userID]
	if st == nil {
		q.mu.Unlock()
		return
	}
	if q.closed {
		q.discardLocked(userID, st, len(st.buf), "window")
		q.mu.Unlock()
		return
	}
	batch := st.buf
	st.buf = nil
	st.timer = nil
	q.mu.Unlock()

	var texts []string
	var calls []Payload
	for _, p := range batch {
		if p.Kind == KindText {
			texts = append(texts, p.Text)
			continue
		}
		calls = append(calls, p)
	}
	if len(texts) > 0 {
		merged := Payload{Kind: KindText, Text: strings.Join(texts, " "), ReceivedAt: batch[0].ReceivedAt}
		calls = append([]Payload{merged}, calls...)
	}
	q.logger.Debug("drain", "user_id", userID, "payloads", len(batch), "texts", len(texts), "calls", len(calls))

	sent := 0
	for i, call := range calls {
		if i > 0 && !q.pause() {
			break
		}
		q.dispatch(userID, call)
		sent++
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.discardLocked(userID, st, len(calls)-sent+len(st.buf), "drain")
		return
	}
	if len(st.buf) > 0 {
		// Payloads that arrived mid-drain start a fresh window.
		q.armLocked(userID, st)
		q.logger.Debug("scheduled", "user_id", userID, "window", q.window, "buffered", len(st.buf))
		return
	}
	st.scheduled = false
	q.forgetLocked(userID, st)
}

// discardLocked drops the user's buffer after Close and counts n payloads as
// lost.
func (q *Queue) discardLocked(userID string, st *userState, n int, stage string) {
	st.buf = nil
	st.timer = nil
	st.scheduled = false
	q.forgetLocked(userID, st)
	if n > 0 {
		q.dropped += n
		q.logger.Warn("dropped payloads on close", "user_id", userID, "stage", stage, "count", n)
	}
}

// pause waits MediaGap. It returns false if the queue was shut down.
func (q *Queue) pause() bool {
	t := time.NewTimer(q.mediaGap)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// dispatch appends p to the user's worker and starts the worker if idle. It
// does not wait for the call.
func (q *Queue) dispatch(userID string, p Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.users[userID]
	st.jobs = append(st.jobs, p)
	q.logger.Debug("dispatch", "user_id", userID, "kind", p.Kind, "pending", len(st.jobs))

	if !st.running {
		st.running = true
		q.wg.Add(1)
		go q.work(userID, st)
	}
}

// work runs the user's jobs one at a time until none are left.
func (q *Queue) work(userID string, st *userState) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(st.jobs) == 0 {
			st.running = false
			q.forgetLocked(userID, st)
			q.mu.Unlock()
			return
		}
		job := st.jobs[0]
		st.jobs = st.jobs[1:]
		q.mu.Unlock()

		q.run(userID, job)
	}
}

// run calls the handler, containing panics and logging errors.
func (q *Queue) run(userID string, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("handler panicked", "user_id", userID, "kind", p.Kind, "panic", r)
		}
	}()

	start := time.Now()
	if err := q.handler(q.ctx, userID, p); err != nil {
		q.logger.Error("handler failed", "user_id", userID, "kind", p.Kind, "elapsed", time.Since(start), "error", err)
		return
	}
	q.logger.Debug("handled", "user_id", userID, "kind", p.Kind, "elapsed", time.Since(start))
}

// forgetLocked drops per-user state once nothing references it.
func (q *Queue) forgetLocked(userID string, st *userState) {
	if st.idle() && q.users[userID] == st {
		delete(q.users, userID)
	}
}

// Pending returns the number of buffered and queued payloads for userID.
func (q *Queue) Pending(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.users[userID]
	if !ok {
		return 0
	}
	return len(st.buf) + len(st.jobs)
}

// Close stops accepting payloads, cancels pending debounce windows and waits
// for in-flight drains and handlers. If ctx ends first the handlers' context
// is cancelled and ctx's error returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		dropped := 0
		for userID, st := range q.users {
			if st.timer != nil && st.timer.Stop() {
				q.wg.Done()
				dropped += len(st.buf)
				st.buf = nil
				st.timer = nil
				st.scheduled = false
				q.forgetLocked(userID, st)
			}
		}
		if dropped > 0 {
			q.dropped += dropped
			q.logger.Warn("dropped buffered payloads on close", "count", dropped)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Dropped returns how many payloads were discarded by Close, including those
// that were buffered or awaiting dispatch in a drain that was cut short.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
