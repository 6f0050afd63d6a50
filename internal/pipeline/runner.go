package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/errlens/internal/model"
)

// Factory builds the pipeline for one run. A fresh pipeline per run keeps
// client state, such as degraded mode, scoped to that run.
type Factory func(ch model.Channel) *Pipeline

// RunnerConfig holds optional runner settings.
type RunnerConfig struct {
	Events model.EventSink
}

// Runner executes pipelines in the background with at most one in-flight run
// per channel.
type Runner struct {
	factory Factory
	events  model.EventSink

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	onFinish []func(Outcome)
	wg       sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(factory Factory, conf ...RunnerConfig) *Runner {
	r := &Runner{
		factory: factory,
		events:  model.Discard,
		running: make(map[string]context.CancelFunc),
	}
	if len(conf) > 0 && conf[0].Events != nil {
		r.events = conf[0].Events
	}
	return r
}

// OnFinish registers a callback invoked with every completed outcome.
func (r *Runner) OnFinish(fn func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = append(r.onFinish, fn)
}

// Start launches a run for ch. It returns false without doing anything when
// the channel already has a run in flight.
func (r *Runner) Start(ctx context.Context, ch model.Channel, w model.Window) bool {
	key := ch.ID()

	r.mu.Lock()
	if _, busy := r.running[key]; busy {
		r.mu.Unlock()
		model.Emitter{Sink: r.events, Channel: key}.Emit(model.EventInfo, "run already in progress")
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running[key] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		out := r.run(runCtx, ch, w)
		cancel()

		r.mu.Lock()
		delete(r.running, key)
		callbacks := append([]func(Outcome){}, r.onFinish...)
		r.mu.Unlock()

		for _, fn := range callbacks {
			fn(out)
		}
	}()
	return true
}

func (r *Runner) run(ctx context.Context, ch model.Channel, w model.Window) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Channel: ch, Count: -1, State: StateFailed, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return r.factory(ch).Run(ctx, ch, w)
}

// Stop requests cooperative cancellation of a channel's run. It reports
// whether a run was in flight.
func (r *Runner) Stop(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[key]
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a channel has a run in flight.
func (r *Runner) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[key]
	return ok
}

// Active returns the keys of channels with a run in flight, sorted.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.running))
	for k := range r.running {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunAll runs every channel concurrently, one run per channel identity, and
// returns the outcomes in input order. Duplicate channels are run once and
// share the outcome.
func RunAll(ctx context.Context, factory Factory, channels []model.Channel, w model.Window) []Outcome {
	outcomes := make([]Outcome, len(channels))
	first := make(map[string]int, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		if _, dup := first[ch.ID()]; dup {
			continue
		}
		first[ch.ID()] = i
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					outcomes[i] = Outcome{Channel: ch, Count: -1, State: StateFailed, Err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			outcomes[i] = factory(ch).Run(gctx, ch, w)
			return nil
		})
	}
	_ = g.Wait()

	for i, ch := range channels {
		if j := first[ch.ID()]; j != i {
			outcomes[i] = outcomes[j]
		}
	}
	return outcomes
}
