package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serversentry/agent/internal/events"
)

// RetryBudget is the number of retries after the first attempt (spec §4.8:
// "retry up to 2 times with exponential backoff (1 s, 4 s)").
const RetryBudget = 2

var backoffSchedule = []time.Duration{1 * time.Second, 4 * time.Second}

// cooldownKey identifies a (rule_or_source_id, channel) pair for the
// dispatcher's de-duplication table (spec §4.8).
type cooldownKey struct {
	source  string
	channel string
}

// NotificationRecord is retained in memory for the cooldown window and
// otherwise only persisted as log lines (spec §3 NotificationRecord).
type NotificationRecord struct {
	EventID string
	Channel string
	Attempt int
	SentAt  time.Time
	OK      bool
	Error   string
}

// Logger is the minimal structured-logging surface the dispatcher needs;
// satisfied by internal/agent's Logger (spec's ambient logging stack).
type Logger interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// job is one queued delivery for a channel's worker goroutine. A job with
// a non-nil barrier carries no delivery work; the worker closes barrier
// immediately on receipt, letting Flush wait for every prior job on that
// channel's queue to have drained.
type job struct {
	ch      Channel
	key     cooldownKey
	eventID string
	msg     Message
	barrier chan struct{}
}

// Dispatcher routes events to configured channels, honoring per-(rule,
// channel) cooldown and the retry/backoff state machine of spec §4.8.
// Delivery itself runs on one worker goroutine per channel (spec §4.8:
// "the dispatcher runs one worker per channel for delivery; per-channel
// serialization simplifies rate limiting"), fed by a queue that
// DispatchStatus/DispatchAnomaly/DispatchComposite enqueue onto after a
// (fast, synchronous) cooldown-admission check.
type Dispatcher struct {
	hostname string
	logger   Logger
	now      func() time.Time
	sleep    func(time.Duration)

	channels map[string]Channel

	mu        sync.Mutex
	lastSent  map[cooldownKey]time.Time
	history   []NotificationRecord
	maxRecord int

	queueMu   sync.Mutex
	queues    map[string]chan job
	queueSize int
	wg        sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher for hostname, with no channels
// registered yet (add with Register).
func NewDispatcher(hostname string, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		hostname:  hostname,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
		channels:  make(map[string]Channel),
		lastSent:  make(map[cooldownKey]time.Time),
		maxRecord: 1000,
		queues:    make(map[string]chan job),
		queueSize: 64,
	}
}

// Register adds or replaces a named channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name] = ch
}

// Channels returns the currently registered channel names, for inspection.
func (d *Dispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// admit reports whether key may be delivered now: true when nothing has
// been sent for key yet, or when at least cooldown has elapsed since the
// last recorded send. A zero cooldown never suppresses.
func (d *Dispatcher) admit(key cooldownKey, cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSent[key]
	if !ok {
		return true
	}
	return d.now().Sub(last) >= cooldown
}

func (d *Dispatcher) recordSent(key cooldownKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent[key] = d.now()
}

func (d *Dispatcher) appendHistory(rec NotificationRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, rec)
	if len(d.history) > d.maxRecord {
		d.history = d.history[len(d.history)-d.maxRecord:]
	}
}

// History returns a copy of the retained notification records (most
// recent last), for inspection.
func (d *Dispatcher) History() []NotificationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]NotificationRecord, len(d.history))
	copy(out, d.history)
	return out
}

// DispatchStatus routes a threshold StatusEvent to channelNames, subject to
// per-(plugin.metric, channel) cooldown.
func (d *Dispatcher) DispatchStatus(ctx context.Context, e events.StatusEvent, channelNames []string, cooldown time.Duration) {
	source := e.Plugin + "." + e.Metric
	placeholders := FromStatusEvent(d.hostname, e)
	d.dispatch(ctx, source, uuid.NewString(), placeholders, "ServerSentry alert: "+source, channelNames, cooldown)
}

// DispatchAnomaly routes an AnomalyEvent.
func (d *Dispatcher) DispatchAnomaly(ctx context.Context, e events.AnomalyEvent, channelNames []string, cooldown time.Duration) {
	source := e.Plugin + "." + e.Metric + ".anomaly"
	placeholders := FromAnomalyEvent(d.hostname, e)
	d.dispatch(ctx, source, uuid.NewString(), placeholders, "ServerSentry anomaly: "+source, channelNames, cooldown)
}

// DispatchComposite routes a CompositeEvent.
func (d *Dispatcher) DispatchComposite(ctx context.Context, e events.CompositeEvent, channelNames []string, cooldown time.Duration) {
	source := "rule:" + e.Rule
	placeholders := FromCompositeEvent(d.hostname, e)
	d.dispatch(ctx, source, uuid.NewString(), placeholders, "ServerSentry composite rule: "+e.Rule, channelNames, cooldown)
}

// dispatch implements the cooldown-admission check and queues a delivery
// job per channel. Per spec §4.8 "within one channel, deliveries are
// serialized in the order events pass cooldown admission" — admission is
// decided here, synchronously, in the order channelNames lists them, and
// the actual delivery (including retries) happens on that channel's own
// worker goroutine, so queuing preserves admission order without blocking
// the caller on slow or retrying deliveries.
func (d *Dispatcher) dispatch(ctx context.Context, source, eventID string, ph Placeholders, subject string, channelNames []string, cooldown time.Duration) {
	for _, name := range channelNames {
		d.mu.Lock()
		ch, ok := d.channels[name]
		d.mu.Unlock()
		if !ok || !ch.Enabled {
			continue
		}

		key := cooldownKey{source: source, channel: name}
		if !d.admit(key, cooldown) {
			d.logger.Info("notification suppressed by cooldown", "source", source, "channel", name)
			continue
		}

		tmpl := ch.Template
		if tmpl == "" {
			tmpl = DefaultTemplate(ch.Kind)
		}
		body := Render(tmpl, ph)
		msg := Message{Subject: subject, Body: body}

		d.enqueue(ctx, name, job{ch: ch, key: key, eventID: eventID, msg: msg})
	}
}

// queueFor returns the channel's worker queue, lazily starting its worker
// goroutine on first use.
func (d *Dispatcher) queueFor(ctx context.Context, name string) chan job {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	q, ok := d.queues[name]
	if ok {
		return q
	}
	q = make(chan job, d.queueSize)
	d.queues[name] = q
	d.wg.Add(1)
	go d.runChannelWorker(ctx, name, q)
	return q
}

// enqueue hands a job to name's worker, starting the worker if needed.
func (d *Dispatcher) enqueue(ctx context.Context, name string, j job) {
	d.queueFor(ctx, name) <- j
}

// runChannelWorker is the one-goroutine-per-channel delivery loop (spec
// §4.8): every job for this channel is delivered (with its own retries)
// before the next is even looked at, which is what makes deliveries to a
// single channel genuinely serialized.
func (d *Dispatcher) runChannelWorker(ctx context.Context, name string, q chan job) {
	defer d.wg.Done()
	for j := range q {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		d.deliverWithRetry(ctx, j.ch, j.key, j.eventID, j.msg)
	}
}

// Flush blocks until every job enqueued on any channel worker so far has
// been processed. Intended for tests and for graceful shutdown ordering;
// it does not prevent new jobs queued concurrently from racing with it.
func (d *Dispatcher) Flush() {
	d.queueMu.Lock()
	barriers := make([]chan struct{}, 0, len(d.queues))
	for _, q := range d.queues {
		b := make(chan struct{})
		q <- job{barrier: b}
		barriers = append(barriers, b)
	}
	d.queueMu.Unlock()
	for _, b := range barriers {
		<-b
	}
}

// Close stops every channel worker once its queue has drained and waits
// for them to exit. Safe to call once, typically from the agent's
// shutdown path after Run's context has been cancelled.
func (d *Dispatcher) Close() {
	d.queueMu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.queueMu.Unlock()
	d.wg.Wait()
}

// Run consumes events off bus until ctx is cancelled, routing each one to
// the matching Dispatch* method (C8 "consumes" C7). On cancellation it
// closes all channel worker queues and waits for in-flight deliveries to
// finish before returning.
func (d *Dispatcher) Run(ctx context.Context, bus *events.Bus) {
	defer d.Close()
	wake := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			for {
				ev, ok := bus.Pop()
				if !ok {
					break
				}
				d.route(ctx, ev)
			}
		}
	}
}

// route dispatches one bus event to the matching channel fan-out,
// skipping OK/non-recovery status events (nothing to notify about).
func (d *Dispatcher) route(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindStatus:
		e := ev.Status
		if e.Status == events.StatusOK && !e.Recovery {
			return
		}
		d.DispatchStatus(ctx, *e, e.NotifyChannels, e.Cooldown)
	case events.KindAnomaly:
		e := ev.Anomaly
		d.DispatchAnomaly(ctx, *e, e.NotifyChannels, e.Cooldown)
	case events.KindComposite:
		e := ev.Composite
		d.DispatchComposite(ctx, *e, e.NotifyChannels, e.Cooldown)
	}
}

// deliverWithRetry runs the IDLE->SENDING->{COOLDOWN,IDLE} state machine of
// spec §4.8 for one (event, channel) pair.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, ch Channel, key cooldownKey, eventID string, msg Message) {
	deliverer, err := delivererForVar(ch.Kind)
	if err != nil {
		d.logger.Error("no deliverer for channel", "channel", ch.Name, "error", err.Error())
		d.appendHistory(NotificationRecord{EventID: eventID, Channel: ch.Name, Attempt: 0, SentAt: d.now(), OK: false, Error: err.Error()})
		return
	}

	timeout := DefaultTimeout
	attempt := 0
	for {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := deliverer.Deliver(attemptCtx, ch, msg)
		cancel()

		if err == nil {
			d.recordSent(key)
			d.appendHistory(NotificationRecord{EventID: eventID, Channel: ch.Name, Attempt: attempt, SentAt: d.now(), OK: true})
			d.logger.Info("notification delivered", "channel", ch.Name, "attempt", attempt)
			return
		}

		var transient *TransientError
		isTransient := errors.As(err, &transient)
		d.appendHistory(NotificationRecord{EventID: eventID, Channel: ch.Name, Attempt: attempt, SentAt: d.now(), OK: false, Error: err.Error()})

		if !isTransient || attempt > RetryBudget {
			d.logger.Error("notification delivery failed, giving up", "channel", ch.Name, "attempt", attempt, "error", err.Error())
			return
		}

		backoff := backoffSchedule[minInt(attempt-1, len(backoffSchedule)-1)]
		d.logger.Warn("transient notification delivery failure, retrying", "channel", ch.Name, "attempt", attempt, "backoff", backoff.String(), "error", err.Error())
		d.sleep(backoff)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
