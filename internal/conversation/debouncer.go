package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// FireFunc receives the conversation id and the text accumulated during the
// quiet window once the debounce timer expires uncancelled.
type FireFunc func(ctx context.Context, convID uuid.UUID, burst string)

// Debouncer coalesces bursts of inbound messages into one downstream
// invocation per conversation per quiet period. Messages are persisted by the
// caller before Observe, so a crash never loses text; the debouncer only
// decides when processing starts.
type Debouncer struct {
	window  time.Duration
	fire    FireFunc
	logger  *logging.Logger
	metrics *metrics.FunnelMetrics

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingTimer
	gen     uint64
	closed  bool
}

type pendingTimer struct {
	timer *time.Timer
	parts []string
	gen   uint64
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration, fire FireFunc, logger *logging.Logger) *Debouncer {
	if window <= 0 {
		window = 5 * time.Second
	}
	if fire == nil {
		panic("conversation: debouncer fire func required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Debouncer{
		window:  window,
		fire:    fire,
		logger:  logger,
		pending: make(map[uuid.UUID]*pendingTimer),
	}
}

// WithMetrics counts elapsed windows on the given registry.
func (d *Debouncer) WithMetrics(m *metrics.FunnelMetrics) *Debouncer {
	d.metrics = m
	return d
}

// Observe notes a new inbound message and (re)starts the conversation's
// timer. An already-pending timer is stopped and replaced atomically: only
// the most recently armed timer may fire, and exactly one fire happens per
// quiet period.
func (d *Debouncer) Observe(ctx context.Context, convID uuid.UUID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	entry, ok := d.pending[convID]
	if ok {
		entry.timer.Stop()
		entry.parts = append(entry.parts, text)
	} else {
		entry = &pendingTimer{parts: []string{text}}
		d.pending[convID] = entry
	}

	// Each arming gets a process-unique generation so a timer that already
	// fired but has not yet acquired the mutex can never act on a newer burst.
	d.gen++
	entry.gen = d.gen
	gen := entry.gen
	entry.timer = time.AfterFunc(d.window, func() {
		d.expire(ctx, convID, gen)
	})
}

// expire runs on the timer goroutine. The generation check resolves the race
// where a new message arrives just as an old timer fires: a stale generation
// means the timer was superseded and must not invoke downstream.
func (d *Debouncer) expire(ctx context.Context, convID uuid.UUID, gen uint64) {
	d.mu.Lock()
	entry, ok := d.pending[convID]
	if !ok || entry.gen != gen {
		d.mu.Unlock()
		return
	}
	burst := strings.Join(entry.parts, "\n")
	delete(d.pending, convID)
	d.mu.Unlock()

	d.logger.Debug("debounce window elapsed",
		"conversation_id", convID,
		"messages", len(entry.parts),
	)
	d.metrics.ObserveDebounceFire()
	d.fire(ctx, convID, burst)
}

// Flush fires every pending conversation immediately. Used on shutdown so an
// observed message is never silently dropped.
func (d *Debouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[uuid.UUID]*pendingTimer)
	d.mu.Unlock()

	for convID, entry := range pending {
		entry.timer.Stop()
		d.fire(ctx, convID, strings.Join(entry.parts, "\n"))
	}
}

// Stop cancels all timers without firing. After Stop the debouncer ignores
// further Observe calls.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, id)
	}
}

// PendingCount reports how many conversations have an armed timer.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
