package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/genai"
	"github.com/fundscout/fundscout/engine/rag"
	"github.com/fundscout/fundscout/pkg/fn"
	"github.com/fundscout/fundscout/pkg/metrics"
	"github.com/fundscout/fundscout/pkg/natsutil"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// EventsSubject is the NATS subject for task lifecycle events.
const EventsSubject = "tasks.events"

// TaskEvent is published on every task status change.
type TaskEvent struct {
	TaskID string    `json:"task_id"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Asker is the retrieval pipeline contract the orchestrator drives.
type Asker interface {
	Ask(ctx context.Context, question string, topK int, filters map[string]string) (*rag.Answer, error)
}

// Policy decides how a sub-query failure affects the rest of the task.
type Policy string

const (
	// FailFast moves the task to FAILED on the first sub-query failure.
	FailFast Policy = "fail-fast"
	// BestEffort records the failure and continues, producing a partial
	// answer annotated with the gaps.
	BestEffort Policy = "best-effort"
)

// Options configures the orchestrator.
type Options struct {
	Policy Policy
	TopK   int
	TTL    time.Duration
	Retry  fn.RetryOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	retry := fn.DefaultRetry
	retry.RetryIf = domain.Retryable
	return Options{
		Policy: FailFast,
		TopK:   5,
		TTL:    DefaultTTL,
		Retry:  retry,
	}
}

// Orchestrator runs tasks. Sub-queries within a task execute strictly
// sequentially; independent tasks run concurrently against the shared
// pipeline.
type Orchestrator struct {
	pipeline Asker
	gen      genai.Generator
	dec      Decomposer
	store    *Store
	nc       *nats.Conn
	opts     Options
	logger   *slog.Logger
	reg      *metrics.Registry

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// New creates an Orchestrator. dec defaults to SingleQuery; nc and reg
// may be nil.
func New(pipeline Asker, gen genai.Generator, dec Decomposer, nc *nats.Conn, opts Options, reg *metrics.Registry, logger *slog.Logger) *Orchestrator {
	if dec == nil {
		dec = SingleQuery{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		pipeline: pipeline,
		gen:      gen,
		dec:      dec,
		store:    NewStore(opts.TTL),
		nc:       nc,
		opts:     opts,
		logger:   logger,
		reg:      reg,
		cancels:  make(map[string]chan struct{}),
	}
}

// Close stops the task store sweeper.
func (o *Orchestrator) Close() { o.store.Close() }

// Submit decomposes the goal, creates a PENDING task, and starts it.
// The returned snapshot has the task ID for later polling.
func (o *Orchestrator) Submit(ctx context.Context, goal string, topK int, filters map[string]string) (Task, error) {
	if strings.TrimSpace(goal) == "" {
		return Task{}, fmt.Errorf("%w: empty goal", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = o.opts.TopK
	}

	subs, err := o.dec.Decompose(ctx, goal)
	if err != nil {
		return Task{}, fmt.Errorf("decompose: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:         uuid.NewString(),
		Goal:       goal,
		Status:     StatusPending,
		SubQueries: subs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.store.Put(task)

	o.mu.Lock()
	o.cancels[task.ID] = make(chan struct{})
	o.mu.Unlock()

	o.publishEvent(ctx, task.ID, StatusPending)
	o.logger.Info("task submitted", "task_id", task.ID, "sub_queries", len(subs))

	// Snapshot before the run goroutine starts: it mutates the stored
	// task through the same pointer.
	snap := snapshot(task)
	go o.run(task.ID, topK, filters)
	return snap, nil
}

// Get returns the current task snapshot.
func (o *Orchestrator) Get(id string) (Task, error) {
	return o.store.Get(id)
}

// Cancel requests cancellation. An in-flight sub-query is allowed to
// finish; the task stops before the next one with partial results.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	ch, ok := o.cancels[id]
	if ok {
		delete(o.cancels, id)
	}
	o.mu.Unlock()

	if ok {
		close(ch)
		return nil
	}
	task, err := o.store.Get(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s already %s", id, task.Status)
}

func (o *Orchestrator) cancelled(id string) bool {
	o.mu.Lock()
	ch, ok := o.cancels[id]
	o.mu.Unlock()
	if !ok {
		return true // cancel already consumed the channel
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// run executes the task's sub-queries in declared order. Each sub-query
// receives the accumulated answer text from prior sub-queries as
// additional context.
func (o *Orchestrator) run(id string, topK int, filters map[string]string) {
	ctx := context.Background()
	if err := o.setStatus(ctx, id, StatusRunning); err != nil {
		o.logger.Error("task start failed", "task_id", id, "err", err)
		return
	}

	task, err := o.store.Get(id)
	if err != nil {
		return
	}

	var priorAnswers []string
	provenance := make(map[string]bool)
	failures := 0

	for i, q := range task.SubQueries {
		if o.cancelled(id) {
			o.finish(ctx, id, StatusCancelled, "", nil, "cancelled before sub-query "+fmt.Sprint(i+1))
			return
		}

		question := q
		if len(priorAnswers) > 0 {
			question = fmt.Sprintf("%s\n\nAnswers from earlier steps:\n%s", q, strings.Join(priorAnswers, "\n"))
		}

		result := fn.Retry(ctx, o.opts.Retry, func(ctx context.Context) fn.Result[*rag.Answer] {
			return fn.FromPair(o.pipeline.Ask(ctx, question, topK, filters))
		})
		ans, err := result.Unwrap()

		sub := SubResult{Question: q}
		if err != nil {
			sub.Error = err.Error()
			failures++
			o.logger.Warn("sub-query failed", "task_id", id, "index", i, "err", err)
		} else {
			sub.Answer = ans.Text
			sub.Provenance = ans.Provenance
			sub.Grounded = ans.Grounded
			priorAnswers = append(priorAnswers, ans.Text)
			for _, cid := range ans.Provenance {
				provenance[cid] = true
			}
		}
		o.store.Update(id, func(t *Task) error {
			t.Results = append(t.Results, sub)
			t.UpdatedAt = time.Now()
			return nil
		})

		if err != nil && o.opts.Policy == FailFast {
			o.finish(ctx, id, StatusFailed, "", nil,
				fmt.Sprintf("sub-query %d (%q): %v", i+1, q, err))
			return
		}
	}

	if failures == len(task.SubQueries) {
		o.finish(ctx, id, StatusFailed, "", nil, "all sub-queries failed")
		return
	}

	// A cancel that landed during the last sub-query should not pay for
	// a synthesis call.
	if o.cancelled(id) {
		o.finish(ctx, id, StatusCancelled, "", nil, "cancelled before synthesis")
		return
	}

	answer, err := o.synthesize(ctx, id)
	if err != nil {
		o.finish(ctx, id, StatusFailed, "", nil, fmt.Sprintf("synthesis: %v", err))
		return
	}

	union := make([]string, 0, len(provenance))
	for cid := range provenance {
		union = append(union, cid)
	}
	sort.Strings(union)

	o.finish(ctx, id, StatusCompleted, answer, union, "")
}

// synthesize builds the final answer. A single sub-answer passes
// through unchanged; several are summarized by the generation gateway,
// with best-effort gaps annotated.
func (o *Orchestrator) synthesize(ctx context.Context, id string) (string, error) {
	task, err := o.store.Get(id)
	if err != nil {
		return "", err
	}

	var answered []SubResult
	for _, r := range task.Results {
		if r.Error == "" {
			answered = append(answered, r)
		}
	}
	if len(answered) == 1 && len(task.Results) == 1 {
		return answered[0].Answer, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Combine the following step answers into one coherent response to the request: %s\n", task.Goal)
	for i, r := range task.Results {
		if r.Error != "" {
			fmt.Fprintf(&b, "\nStep %d (%s): no answer available (%s)", i+1, r.Question, r.Error)
			continue
		}
		fmt.Fprintf(&b, "\nStep %d (%s): %s", i+1, r.Question, r.Answer)
	}
	return o.gen.Generate(ctx, b.String())
}

func (o *Orchestrator) setStatus(ctx context.Context, id string, to Status) error {
	err := o.store.Update(id, func(t *Task) error {
		return t.transition(to, time.Now())
	})
	if err == nil {
		o.publishEvent(ctx, id, to)
	}
	return err
}

// finish moves the task to a terminal state and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, id string, to Status, answer string, provenance []string, errMsg string) {
	err := o.store.Update(id, func(t *Task) error {
		if err := t.transition(to, time.Now()); err != nil {
			return err
		}
		t.Answer = answer
		t.Provenance = provenance
		t.Error = errMsg
		return nil
	})
	if err != nil {
		o.logger.Error("task finish failed", "task_id", id, "err", err)
		return
	}

	o.mu.Lock()
	delete(o.cancels, id)
	o.mu.Unlock()

	o.publishEvent(ctx, id, to)
	if o.reg != nil {
		o.reg.Counter(metrics.WithLabels("agent_tasks_total", "status", strings.ToLower(string(to))),
			"Tasks finished per terminal status.").Inc()
	}
	o.logger.Info("task finished", "task_id", id, "status", to)
}

func (o *Orchestrator) publishEvent(ctx context.Context, id string, status Status) {
	if o.nc == nil {
		return
	}
	ev := TaskEvent{TaskID: id, Status: status, At: time.Now()}
	if err := natsutil.Publish(ctx, o.nc, EventsSubject, ev); err != nil {
		o.logger.Warn("task event publish failed", "task_id", id, "err", err)
	}
}
