// Package lifecycle starts and stops the four stage workers together,
// grounded on the teacher's kernel shutdown ordering: cancel the shared
// context first so no new work is accepted, stop the workers and let
// in-flight handlers drain, then tear down the queue substrate and close
// the database last.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"codeforge/pkg/agent"
	"codeforge/pkg/limiter"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/queue"
	"codeforge/pkg/storage"
	"codeforge/pkg/worker"
)

var log = logx.NewLogger("lifecycle")

// DefaultDrainTimeout bounds how long Stop waits for in-flight handlers
// before returning anyway.
const DefaultDrainTimeout = 30 * time.Second

// sweepInterval is how often each queue's delayed-retry sweeper checks for
// due messages, and how often queue depth is sampled for the metrics gauge.
const sweepInterval = 5 * time.Second

// Pipeline owns the full set of running stage workers plus the
// infrastructure they share.
type Pipeline struct {
	ctx    context.Context //nolint:containedctx // lifecycle owns the process-wide cancellation point
	cancel context.CancelFunc

	workers  []*worker.Worker
	sweepers []*queue.Sweeper
	db       *storage.DB

	drainTimeout time.Duration
}

// Config is everything Start needs to wire up the pipeline.
type Config struct {
	DBPath   string
	RedisURL string
	Agent    agent.IAgent
	Forge    worker.PRCollaborator
	Retry    queue.RetryConfig
	// Budget enforces each tenant's monthly token/call quota. Nil disables
	// quota enforcement entirely (every call is allowed through).
	Budget *limiter.Limiter
	// Metrics records stage durations, agent-call outcomes, and job
	// transitions. Nil disables metrics recording.
	Metrics *metrics.PipelineRecorder
}

// Start opens the database, configures the queue substrate, and launches
// one worker per stage. Workers begin consuming immediately; Start returns
// once all four are running.
func Start(parent context.Context, cfg Config) (*Pipeline, error) {
	if err := storage.Initialize(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("lifecycle: initialize storage: %w", err)
	}

	queue.Configure(cfg.RedisURL)
	if cfg.Retry != (queue.RetryConfig{}) {
		queue.ConfigureRetry(cfg.Retry)
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pipeline{
		ctx:          ctx,
		cancel:       cancel,
		db:           storage.Get(),
		drainTimeout: DefaultDrainTimeout,
	}

	client := storage.NewTenantClient(p.db)
	stages := []string{queue.Planning, queue.Coding, queue.Reviewing, queue.PROpen}
	for _, stage := range stages {
		q, err := queue.Get(stage)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("lifecycle: open queue %s: %w", stage, err)
		}
		w := worker.New(stage, q, client, cfg.Agent, cfg.Forge, cfg.Budget, cfg.Metrics)
		p.workers = append(p.workers, w)
		go w.Run(ctx)

		sweeper := queue.NewSweeper(q, sweepInterval)
		sweeper.Start(ctx)
		p.sweepers = append(p.sweepers, sweeper)
	}

	if cfg.Metrics != nil {
		go sampleQueueDepth(ctx, cfg.Metrics)
	}

	log.Info("pipeline started: %d stage workers running", len(p.workers))
	return p, nil
}

// sampleQueueDepth polls every stage queue's ready-list length on an
// interval and feeds it to the queue-depth gauge, until ctx is cancelled.
func sampleQueueDepth(ctx context.Context, rec *metrics.PipelineRecorder) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stage := range []string{queue.Planning, queue.Coding, queue.Reviewing, queue.PROpen} {
				q, err := queue.Get(stage)
				if err != nil {
					continue
				}
				depth, err := q.Depth(ctx)
				if err != nil {
					log.Warn("queue %s: depth sample failed: %v", stage, err)
					continue
				}
				rec.SetQueueDepth(stage, int(depth))
			}
		}
	}
}

// Stop drains in-flight handlers up to the configured deadline, then
// closes the queue substrate and the database, and resets the queue
// instance map so a subsequent Start returns fresh instances.
func (p *Pipeline) Stop() error {
	log.Info("stopping pipeline...")

	// Cancel first so no worker loop picks up new work; in-flight handlers
	// still finish their current message.
	p.cancel()

	for _, w := range p.workers {
		w.Stop()
	}
	for _, s := range p.sweepers {
		s.Stop()
	}

	drained := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		log.Info("all workers drained")
	case <-time.After(p.drainTimeout):
		log.Warn("drain timeout exceeded after %s, proceeding with shutdown", p.drainTimeout)
	}

	for _, stage := range []string{queue.Planning, queue.Coding, queue.Reviewing, queue.PROpen} {
		if q, err := queue.Get(stage); err == nil {
			if err := q.Close(); err != nil {
				log.Error("closing queue %s: %v", stage, err)
			}
		}
	}
	queue.ResetInstances()

	if err := storage.Close(); err != nil {
		return fmt.Errorf("lifecycle: close storage: %w", err)
	}

	log.Info("pipeline stopped")
	return nil
}
