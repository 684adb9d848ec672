package llm

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Priority orders queued requests. Lower values run first; equal priorities
// run in submission order.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ErrShutdown resolves every queued request when the optimizer stops.
var ErrShutdown = errors.New("llm optimizer shut down")

// Observer receives one inference sample per resolved request. Satisfied by
// the metrics collector.
type Observer interface {
	ObserveLLM(took time.Duration, tokens int, ok bool)
}

// OptimizerConfig tunes the batching worker.
type OptimizerConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Observer     Observer // optional
}

// DefaultOptimizerConfig returns worker defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		BatchSize:    5,
		BatchTimeout: 2 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// Result is the outcome of one queued request.
type Result struct {
	Content string
	Err     error
}

// Request is one queued prompt.
type request struct {
	prompt      string
	maxTokens   int
	temperature float64
	priority    Priority
	seq         uint64
	done        chan Result
	ctx         context.Context
}

// requestQueue is a heap ordered by (priority, seq).
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }
func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *requestQueue) Push(x interface{}) {
	*q = append(*q, x.(*request))
}
func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Optimizer batches completion requests through a single worker so a local
// single-slot model server is never hammered concurrently. Requests drain in
// priority order, oldest first within a priority.
type Optimizer struct {
	client *Client
	config OptimizerConfig
	log    zerolog.Logger

	mu      sync.Mutex
	queue   requestQueue
	seq     uint64
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewOptimizer creates and starts the batching worker.
func NewOptimizer(client *Client, config OptimizerConfig, log zerolog.Logger) *Optimizer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOptimizerConfig().BatchSize
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultOptimizerConfig().BatchTimeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultOptimizerConfig().RetryBackoff
	}

	o := &Optimizer{
		client: client,
		config: config,
		log:    log.With().Str("component", "llm-optimizer").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	heap.Init(&o.queue)
	go o.run()
	return o
}

// Submit queues a prompt and returns a channel receiving exactly one Result.
func (o *Optimizer) Submit(ctx context.Context, prompt string, maxTokens int, temperature float64, priority Priority) <-chan Result {
	done := make(chan Result, 1)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		done <- Result{Err: ErrShutdown}
		return done
	}
	o.seq++
	heap.Push(&o.queue, &request{
		prompt:      prompt,
		maxTokens:   maxTokens,
		temperature: temperature,
		priority:    priority,
		seq:         o.seq,
		done:        done,
		ctx:         ctx,
	})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return done
}

// Complete queues a prompt and blocks for its result.
func (o *Optimizer) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64, priority Priority) (string, error) {
	select {
	case res := <-o.Submit(ctx, prompt, maxTokens, temperature, priority):
		return res.Content, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CompleteJSON queues a prompt, extracts the first JSON object from the
// completion, and unmarshals it into dest. The raw completion rides along on
// extraction failures for diagnostics.
func (o *Optimizer) CompleteJSON(ctx context.Context, prompt string, maxTokens int, temperature float64, priority Priority, dest interface{}) error {
	content, err := o.Complete(ctx, prompt, maxTokens, temperature, priority)
	if err != nil {
		return err
	}
	obj, err := ExtractJSON(content)
	if err != nil {
		return fmt.Errorf("%w (raw: %q)", err, truncate(content, 200))
	}
	if err := json.Unmarshal([]byte(obj), dest); err != nil {
		return fmt.Errorf("unmarshal completion: %w", err)
	}
	return nil
}

// QueueDepth returns the number of waiting requests.
func (o *Optimizer) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Len()
}

// Stop shuts the worker down and resolves every queued request with
// ErrShutdown.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	drained := make([]*request, o.queue.Len())
	for i := range drained {
		drained[i] = heap.Pop(&o.queue).(*request)
	}
	o.mu.Unlock()

	close(o.done)
	for _, req := range drained {
		req.done <- Result{Err: ErrShutdown}
	}
}

func (o *Optimizer) run() {
	for {
		select {
		case <-o.done:
			return
		case <-o.wake:
		}

		for {
			batch := o.collectBatch()
			if len(batch) == 0 {
				break
			}
			for _, req := range batch {
				o.execute(req)
			}
		}
	}
}

// collectBatch waits up to BatchTimeout for the queue to fill to BatchSize,
// then drains the highest-priority requests.
func (o *Optimizer) collectBatch() []*request {
	deadline := time.NewTimer(o.config.BatchTimeout)
	defer deadline.Stop()

	for {
		o.mu.Lock()
		full := o.queue.Len() >= o.config.BatchSize
		empty := o.queue.Len() == 0
		o.mu.Unlock()
		if full {
			break
		}
		if empty {
			return nil
		}

		select {
		case <-deadline.C:
			goto drain
		case <-o.wake:
		case <-o.done:
			return nil
		}
	}

drain:
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.queue.Len()
	if n > o.config.BatchSize {
		n = o.config.BatchSize
	}
	batch := make([]*request, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, heap.Pop(&o.queue).(*request))
	}
	return batch
}

// execute runs one request with retries on transient server errors.
func (o *Optimizer) execute(req *request) {
	if err := req.ctx.Err(); err != nil {
		req.done <- Result{Err: err}
		return
	}
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoff * time.Duration(1<<(attempt-1))
			o.log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("priority", req.priority.String()).
				Msg("retrying llm request")
			select {
			case <-time.After(backoff):
			case <-req.ctx.Done():
				req.done <- Result{Err: req.ctx.Err()}
				return
			case <-o.done:
				req.done <- Result{Err: ErrShutdown}
				return
			}
		}

		content, tokens, err := o.client.CompleteWithUsage(req.ctx, req.prompt, req.maxTokens, req.temperature)
		if err == nil {
			if o.config.Observer != nil {
				o.config.Observer.ObserveLLM(time.Since(start), tokens, true)
			}
			req.done <- Result{Content: content}
			return
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.Retryable() {
			break
		}
	}
	if o.config.Observer != nil {
		o.config.Observer.ObserveLLM(time.Since(start), 0, false)
	}
	req.done <- Result{Err: lastErr}
}
