package pipeline

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"quill/internal/async"
	"quill/internal/classify"
	"quill/internal/document"
	"quill/internal/logging"
	"quill/internal/types"
	"quill/internal/workflow"
)

// ControllerConfig bounds the request intake.
type ControllerConfig struct {
	Workers     int // concurrent pipeline runs (default: 4)
	QueueSize   int // pending submissions before Submit rejects (default: 64)
	ResultCache int // finished results retained for lookup (default: 512)
}

// DefaultControllerConfig returns the stock controller settings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{Workers: 4, QueueSize: 64, ResultCache: 512}
}

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = fmt.Errorf("submission queue full")

type job struct {
	req      types.Request
	snapshot types.ContextSnapshot
	class    types.ComplexityClass
	path     workflow.Path
}

// Controller is the request intake: it classifies and routes each
// submission, then hands it to a bounded worker pool. A request id runs at
// most once within the suppression window: resubmitting an id the
// controller has already accepted (for example the same message arriving
// again over the fallback transport) is a no-op. The window is LRU-bounded
// to the result-cache size, matching how long a finished result stays
// queryable, so a long-lived process does not accumulate ids without limit.
type Controller struct {
	cfg        ControllerConfig
	classifier *classify.Classifier
	router     *workflow.Router
	model      document.Model
	executor   *Executor
	publisher  *Publisher
	logger     logging.Logger

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	results *lru.Cache[string, *Result]
	seen    *lru.Cache[string, struct{}]

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller. Start must be called before Submit.
func NewController(cfg ControllerConfig, classifier *classify.Classifier, router *workflow.Router,
	model document.Model, executor *Executor, publisher *Publisher, logger logging.Logger) (*Controller, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ResultCache <= 0 {
		cfg.ResultCache = 512
	}

	results, err := lru.New[string, *Result](cfg.ResultCache)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New[string, struct{}](cfg.ResultCache)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		classifier: classifier,
		router:     router,
		model:      model,
		executor:   executor,
		publisher:  publisher,
		logger:     logging.OrNop(logger),
		active:     make(map[string]context.CancelFunc),
		results:    results,
		seen:       seen,
		queue:      make(chan job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the worker pool.
func (c *Controller) Start() {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		async.Go(c.logger, fmt.Sprintf("pipeline-worker-%d", i), c.workerLoop)
	}
}

// Stop cancels all running requests and waits for the workers to exit.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Submit accepts a new natural-language request. The document snapshot is
// captured here, once, before any processing starts.
func (c *Controller) Submit(text string) (types.Request, error) {
	req := types.NewRequest(text)
	return req, c.enqueue(req, c.model.CaptureSnapshot())
}

// SubmitRequest accepts a request that already carries an id, typically one
// arriving over the fallback transport. If the id was accepted before, the
// existing run stands and no second run starts.
func (c *Controller) SubmitRequest(req types.Request, snapshot types.ContextSnapshot) error {
	return c.enqueue(req, snapshot)
}

func (c *Controller) enqueue(req types.Request, snapshot types.ContextSnapshot) error {
	class := c.classifier.Classify(req.Text, snapshot)
	path := c.router.Route(class, req.Text)

	c.mu.Lock()
	if _, dup := c.seen.Get(req.ID); dup {
		c.mu.Unlock()
		c.logger.Debug("request %s already accepted, ignoring resubmission", req.ID)
		return nil
	}
	c.seen.Add(req.ID, struct{}{})
	c.mu.Unlock()

	select {
	case c.queue <- job{req: req, snapshot: snapshot, class: class, path: path}:
		c.logger.Info("request %s accepted: class=%s stages=%v", req.ID, class, path.StageNames())
		return nil
	default:
		c.mu.Lock()
		c.seen.Remove(req.ID)
		c.mu.Unlock()
		return ErrQueueFull
	}
}

// Cancel requests cancellation of a running request. Cancellation takes
// effect at the next stage-group boundary.
func (c *Controller) Cancel(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.active[requestID]
	if ok {
		cancel()
	}
	return ok
}

// Result returns the stored outcome of a finished request.
func (c *Controller) Result(requestID string) (*Result, bool) {
	return c.results.Get(requestID)
}

// ActiveCount returns the number of requests currently running.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Controller) workerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.queue:
			c.runJob(j)
		}
	}
}

func (c *Controller) runJob(j job) {
	runCtx, runCancel := context.WithCancel(c.ctx)
	defer runCancel()

	c.mu.Lock()
	c.active[j.req.ID] = runCancel
	c.mu.Unlock()

	// Events publish on the controller context, not the run context, so a
	// cancelled request can still deliver its terminal error event.
	result := c.executor.Run(runCtx, j.req, j.snapshot, j.class, j.path, func(ev types.StreamEvent) {
		c.publisher.Publish(c.ctx, ev)
	})

	c.mu.Lock()
	delete(c.active, j.req.ID)
	c.mu.Unlock()
	c.results.Add(j.req.ID, result)
}
