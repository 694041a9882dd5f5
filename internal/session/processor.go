package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediafetch/internal/extract"
)

type ProcessorConfig struct {
	Resolver extract.Resolver
	Queue    Queue
	Registry *Registry

	// Workers bounds the goroutines pulling from the submit queue;
	// MaxExtractions bounds how many resolver calls run at once.
	Workers        int
	QueueSize      int
	MaxExtractions int64
	Timeout        time.Duration
	Logger         *slog.Logger
}

const (
	defaultSessionWorkers    = 4
	defaultSessionQueueSize  = 64
	defaultMaxExtractions    = 2
	defaultExtractionTimeout = 20 * time.Minute
	eventPublishGrace        = 5 * time.Second
)

// Processor drives download sessions through the resolver on a bounded worker
// pool. All outcomes, including cancellations, leave as events; the dispatch
// loop never blocks on a running extraction.
type Processor struct {
	resolver extract.Resolver
	queue    Queue
	registry *Registry
	workers  int
	timeout  time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	submissions chan submission
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool
}

type submission struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultSessionWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultSessionQueueSize
	}
	maxExtractions := cfg.MaxExtractions
	if maxExtractions <= 0 {
		maxExtractions = defaultMaxExtractions
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExtractionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		resolver:    cfg.Resolver,
		queue:       cfg.Queue,
		registry:    registry,
		workers:     workers,
		timeout:     timeout,
		sem:         semaphore.NewWeighted(maxExtractions),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		submissions: make(chan submission, queueSize),
	}
}

// Registry exposes the per-user session registry for cancel and status
// queries.
func (p *Processor) Registry() *Registry {
	return p.registry
}

func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit registers the session as the user's active download and hands it to
// the pool. It fails fast when the user already has one running or when the
// processor is stopping.
func (p *Processor) Submit(sess *Session) error {
	select {
	case <-p.ctx.Done():
		return errors.New("processor is shutting down")
	default:
	}

	ctx, cancel := context.WithCancel(p.ctx)
	if err := p.registry.begin(sess.UserID, sess.ID, cancel); err != nil {
		cancel()
		return err
	}
	select {
	case p.submissions <- submission{session: sess, ctx: ctx, cancel: cancel}:
		return nil
	case <-p.ctx.Done():
		p.registry.finish(sess.UserID, sess.ID)
		cancel()
		return errors.New("processor is shutting down")
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case item := <-p.submissions:
			p.run(item)
		}
	}
}

func (p *Processor) run(item submission) {
	sess := item.session
	defer item.cancel()
	defer p.registry.finish(sess.UserID, sess.ID)

	if err := p.sem.Acquire(item.ctx, 1); err != nil {
		p.finishCancelled(sess)
		return
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(item.ctx, p.timeout)
	defer cancel()

	if err := sess.transition(StatusFetching); err != nil {
		p.logger.Error("session cannot start", "session", sess.ID, "error", err)
		return
	}
	p.publishDirect(Event{Type: EventStatus, Session: *sess})

	bridge := NewBridge(sess, p.queue, p.logger)
	result, err := p.resolver.Resolve(ctx, extract.Request{
		URL:     sess.URL,
		Mode:    sess.Mode,
		Quality: sess.Quality,
	}, bridge.Observer(ctx))
	if err != nil {
		if item.ctx.Err() != nil {
			p.finishCancelled(sess)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("extraction timed out")
		}
		if terr := sess.transition(StatusFailed); terr != nil {
			p.logger.Error("session cannot fail", "session", sess.ID, "error", terr)
			return
		}
		p.publishDirect(Event{Type: EventFailed, Session: *sess, Error: err.Error()})
		return
	}

	if terr := sess.transition(StatusCompleted); terr != nil {
		p.logger.Error("session cannot complete", "session", sess.ID, "error", terr)
		return
	}
	sess.BytesDone = result.SizeBytes
	sess.BytesTotal = result.SizeBytes
	p.publishDirect(Event{Type: EventCompleted, Session: *sess, Percent: 100, Result: result})
}

func (p *Processor) finishCancelled(sess *Session) {
	if err := sess.transition(StatusCancelled); err != nil {
		p.logger.Error("session cannot cancel", "session", sess.ID, "error", err)
		return
	}
	p.publishDirect(Event{Type: EventCancelled, Session: *sess})
}

// publishDirect delivers lifecycle events on a fresh context so a
// cancelled session cannot swallow its own terminal notification.
func (p *Processor) publishDirect(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishGrace)
	defer cancel()
	if err := p.queue.Publish(ctx, event); err != nil {
		p.logger.Error("event publish failed", "session", event.Session.ID, "type", event.Type, "error", err)
	}
}
