package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/notify"
	"github.com/edgepub/edgepub/telemetry"
)

const (
	// Default number of messages claimed per poll cycle
	DefaultBatchSize = 16
	// Default interval between poll cycles
	DefaultPollInterval = 500 * time.Millisecond
	// Default number of messages handled concurrently
	DefaultConcurrency = 4
	// Default time a claimed message stays invisible to other consumers
	DefaultVisibilityTimeout = 5 * time.Minute
	// Default number of deliveries before a message is dropped
	DefaultMaxAttempts = 5
)

// Handler processes one delivery. A returned error leaves the message to be
// redelivered once its claim expires.
type Handler func(ctx context.Context, d Delivery) error

// Source is the message store a Worker consumes from
type Source interface {
	ClaimMessages(ctx context.Context, consumer string, now time.Time, visibility time.Duration, limit int) ([]db.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// WorkerConfig configures the queue worker
type WorkerConfig struct {
	Name              string             // Consumer name recorded on claims
	Source            Source             // Message store
	Handlers          map[string]Handler // Handler per actor
	BatchSize         int                // Messages per poll cycle
	PollInterval      time.Duration      // Poll interval
	Concurrency       int                // Concurrent handlers
	VisibilityTimeout time.Duration      // Claim lifetime
	MaxAttempts       int                // Deliveries before a message is dropped
	Hub               *notify.Hub        // Optional, wakes the poll loop on enqueue
	Now               func() time.Time
}

// Worker polls the queue and dispatches due messages to actor handlers
type Worker struct {
	config      WorkerConfig
	inFlight    *xsync.MapOf[string, time.Time]
	stopCh      chan struct{}
	doneCh      chan struct{}
	cancel      context.CancelFunc
	wake        <-chan notify.Signal
	unsubscribe func()
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
}

// NewWorker creates a new queue worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("message source is required")
	}
	if len(config.Handlers) == 0 {
		return nil, fmt.Errorf("at least one handler is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Worker{
		config:   config,
		inFlight: xsync.NewMapOf[string, time.Time](),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	if w.config.Hub != nil {
		actors := make([]string, 0, len(w.config.Handlers))
		for actor := range w.config.Handlers {
			actors = append(actors, actor)
		}
		w.wake, w.unsubscribe = w.config.Hub.Subscribe(notify.Filter{Actors: actors})
	}

	log.Info().
		Str("worker", w.config.Name).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting queue worker")

	go w.pollLoop(ctx)
}

// Stop stops the worker, cancelling in-flight handlers, and waits for it
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping queue worker")

	close(w.stopCh)
	w.cancel()
	<-w.doneCh
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.wake, w.unsubscribe = nil, nil
	}
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Queue worker stopped")
}

// InFlight returns the number of messages currently being handled
func (w *Worker) InFlight() int {
	return w.inFlight.Size()
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		n, err := w.ProcessDue(ctx)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Msg("Failed to poll queue")
		}

		if n == 0 || err != nil {
			w.sleep(w.config.PollInterval)
		}
	}
}

// ProcessDue claims one batch of due messages and handles them, returning
// once every handler in the batch has finished.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	msgs, err := w.config.Source.ClaimMessages(ctx, w.config.Name, w.config.Now(), w.config.VisibilityTimeout, w.config.BatchSize)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup

	for _, m := range msgs {
		if _, loaded := w.inFlight.LoadOrStore(m.ID, w.config.Now()); loaded {
			log.Debug().Str("message_id", m.ID).Msg("Message already in flight, skipping")
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(m db.Message) {
			defer func() {
				w.inFlight.Delete(m.ID)
				<-sem
				wg.Done()
			}()
			w.handle(ctx, m)
		}(m)
	}

	wg.Wait()
	return len(msgs), nil
}

// Drain processes due messages until none are left
func (w *Worker) Drain(ctx context.Context) error {
	for {
		n, err := w.ProcessDue(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// handle runs the handler for one message.
// Delivery semantics: at-least-once. The message is deleted only after the
// handler returns, so a crash in between causes redelivery; handlers guard
// against that through task state.
func (w *Worker) handle(ctx context.Context, m db.Message) {
	logger := log.With().
		Str("message_id", m.ID).
		Str("actor", m.Actor).
		Int("attempt", m.Attempts).
		Logger()

	handler, ok := w.config.Handlers[m.Actor]
	if !ok {
		logger.Error().Msg("No handler for actor, dropping message")
		telemetry.MessagesProcessedTotal.With(m.Actor, "dropped").Inc()
		w.delete(ctx, m.ID)
		return
	}

	if m.Attempts > w.config.MaxAttempts {
		logger.Error().
			Int("max_attempts", w.config.MaxAttempts).
			Msg("Message exceeded max attempts, dropping")
		telemetry.MessagesProcessedTotal.With(m.Actor, "dropped").Inc()
		w.delete(ctx, m.ID)
		return
	}

	start := time.Now()
	err := w.invoke(ctx, handler, NewDelivery(m))
	telemetry.ActorDurationSeconds.With(m.Actor).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error().Err(err).Msg("Actor failed, message will be redelivered")
		telemetry.MessagesProcessedTotal.With(m.Actor, "error").Inc()
		return
	}

	telemetry.MessagesProcessedTotal.With(m.Actor, "ok").Inc()
	w.delete(ctx, m.ID)
}

func (w *Worker) invoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("actor %s panicked: %v", d.Actor, p)
		}
	}()
	return handler(ctx, d)
}

func (w *Worker) delete(ctx context.Context, id string) {
	if err := w.config.Source.DeleteMessage(ctx, id); err != nil {
		log.Warn().
			Err(err).
			Str("message_id", id).
			Msg("Failed to delete handled message - it may be redelivered")
	}
}

// sleep sleeps for the given duration, checking stopCh and the wake channel
// Returns true if sleep completed or was woken, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	// A nil channel never fires, so no hub means timer-only polling
	select {
	case <-w.stopCh:
		return false
	case <-w.wake:
		return true
	case <-timer.C:
		return true
	}
}
