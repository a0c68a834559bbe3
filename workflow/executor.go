// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/harbormaster/plan"
	"github.com/AleutianAI/harbormaster/workspace"
)

var (
	tracer = otel.Tracer("harbormaster.workflow")
	meter  = otel.Meter("harbormaster.workflow")
)

// Config tunes executor behavior.
type Config struct {
	// Concurrency bounds how many package chains run at once.
	// Zero or negative means unbounded.
	Concurrency int

	// Retries is how many additional attempts a failed side effect
	// gets before its activity is terminal-failed.
	Retries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns production defaults: unbounded chains, two
// retries with a one-second pause.
func DefaultConfig() Config {
	return Config{
		Retries:    2,
		RetryDelay: time.Second,
	}
}

// Executor runs release plans durably.
//
// # Description
//
// See the package documentation for the execution model. The executor
// holds no per-run state; one Executor can serve many runs.
type Executor struct {
	store  CheckpointStore
	collab Collaborators
	cfg    Config
	logger *slog.Logger

	sinkMu sync.Mutex
	sink   EventSink

	metricsOnce      sync.Once
	activityLatency  metric.Float64Histogram
	activityReplays  metric.Int64Counter
	activityFailures metric.Int64Counter
}

// NewExecutor creates an executor.
//
// Inputs:
//
//	store - Checkpoint store. Must not be nil.
//	collab - Write collaborators invoked by the activities.
//	cfg - Execution policy.
//	logger - Logger; nil falls back to slog.Default().
func NewExecutor(store CheckpointStore, collab Collaborators, cfg Config, logger *slog.Logger) (*Executor, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, collab: collab, cfg: cfg, logger: logger}, nil
}

// OnEvent registers the lifecycle event sink. Events are serialized;
// the sink needs no locking of its own.
func (e *Executor) OnEvent(sink EventSink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sink = sink
}

func (e *Executor) emit(ev Event) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	if e.sink != nil {
		e.sink(ev)
	}
}

// initMetrics lazily initializes metrics; failures degrade
// observability but never execution.
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var err error
		e.activityLatency, err = meter.Float64Histogram("workflow_activity_duration_seconds",
			metric.WithDescription("Time spent executing each release activity"),
			metric.WithUnit("s"),
		)
		if err != nil {
			e.logger.Error("failed to create activity latency metric", slog.String("error", err.Error()))
		}
		e.activityReplays, err = meter.Int64Counter("workflow_activity_replay_total",
			metric.WithDescription("Number of activities served from checkpoints"),
		)
		if err != nil {
			e.logger.Error("failed to create activity replay metric", slog.String("error", err.Error()))
		}
		e.activityFailures, err = meter.Int64Counter("workflow_activity_failure_total",
			metric.WithDescription("Number of terminally failed activities"),
		)
		if err != nil {
			e.logger.Error("failed to create activity failure metric", slog.String("error", err.Error()))
		}
	})
}

// chain is one package's sequential activity list.
type chain struct {
	item plan.ReleaseItem
	pkg  workspace.Package
}

// Run executes (or resumes) a plan under a run id.
//
// # Description
//
// Builds one chain per plan item and runs chains concurrently under
// the configured limit. Re-running with the same run id replays every
// checkpointed activity without re-invoking its side effect and
// continues from the first unterminated one; abandoning a run is
// simply never resuming its id.
//
// Outputs:
//
//	*RunResult - Per-package outcomes; non-nil whenever error is nil.
//	  A partially failed run still returns a complete result.
//	error - Context cancellation, checkpoint store failure, or a plan
//	  item referencing a package missing from the workspace snapshot.
func (e *Executor) Run(
	ctx context.Context,
	runID string,
	p *plan.Plan,
	packages []workspace.Package,
) (*RunResult, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	e.initMetrics()

	items := p.Items()
	byScope := make(map[string]workspace.Package, len(packages))
	for _, pkg := range packages {
		byScope[pkg.Scope] = pkg
	}

	chains := make([]chain, 0, len(items))
	for _, item := range items {
		pkg, ok := byScope[item.Package()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, item.Package())
		}
		chains = append(chains, chain{item: item, pkg: pkg})
	}

	ctx, span := tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.lifecycle", string(p.Lifecycle)),
			attribute.Int("workflow.chains", len(chains)),
		),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("workflow run started",
		slog.String("run_id", runID),
		slog.String("lifecycle", string(p.Lifecycle)),
		slog.Int("packages", len(chains)),
	)

	results := make(map[string]*ChainResult, len(chains))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Concurrency > 0 {
		g.SetLimit(e.cfg.Concurrency)
	}

	for _, c := range chains {
		c := c
		g.Go(func() error {
			res, err := e.runChain(gctx, runID, p, c)
			if err != nil {
				return err
			}
			resultsMu.Lock()
			results[c.pkg.Scope] = res
			resultsMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &RunResult{
		RunID:    runID,
		Duration: time.Since(start),
		Packages: results,
	}
	for _, res := range results {
		if res.Completed() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Success() {
		span.SetStatus(codes.Ok, "")
		e.logger.Info("workflow run completed",
			slog.String("run_id", runID),
			slog.Duration("duration", result.Duration),
			slog.Int("packages", result.Succeeded),
		)
	} else {
		span.SetStatus(codes.Error, "partial failure")
		e.logger.Error("workflow run partially failed",
			slog.String("run_id", runID),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("failed", result.Failed),
		)
	}

	return result, nil
}

// runChain executes one package's activities strictly in order. A
// failed activity stops this chain only; the error return is reserved
// for infrastructure failures (context, checkpoint store).
func (e *Executor) runChain(ctx context.Context, runID string, p *plan.Plan, c chain) (*ChainResult, error) {
	result := &ChainResult{Package: c.pkg.Scope}

	for _, kind := range ChainOrder {
		rec, resumed, err := e.runActivity(ctx, runID, p, c, kind)
		if err != nil {
			return nil, err
		}

		result.Outcomes = append(result.Outcomes, ActivityOutcome{
			Activity: kind,
			Status:   rec.Status,
			Resumed:  resumed,
			Error:    rec.Error,
		})

		if rec.Status == StatusFailed {
			// Short-circuit only this package's downstream chain.
			result.Failed = kind
			result.Error = rec.Error
			break
		}
	}

	return result, nil
}

// runActivity consults the checkpoint store, replays a terminal record
// if present, and otherwise executes the side effect with retries and
// commits the terminal result before returning.
func (e *Executor) runActivity(
	ctx context.Context,
	runID string,
	p *plan.Plan,
	c chain,
	kind ActivityKind,
) (Record, bool, error) {
	key := ActivityKey(kind, c.pkg.Scope)

	ctx, span := tracer.Start(ctx, string(kind),
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.package", c.pkg.Scope),
			attribute.String("workflow.activity_key", key),
		),
	)
	defer span.End()

	observedStart := time.Now()

	// Read-before-write: a prior terminal result is replayed without
	// re-invoking the side effect.
	if prior, err := e.store.Get(ctx, runID, key); err != nil {
		span.RecordError(err)
		return Record{}, false, fmt.Errorf("checkpoint read %s: %w", key, err)
	} else if prior != nil && prior.Status.Terminal() {
		span.SetAttributes(attribute.Bool("workflow.resumed", true))
		if e.activityReplays != nil {
			e.activityReplays.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", string(kind))))
		}
		e.logger.Debug("activity replayed from checkpoint",
			slog.String("run_id", runID),
			slog.String("key", key),
			slog.String("status", string(prior.Status)),
		)
		e.emit(Event{
			RunID:     runID,
			Package:   c.pkg.Scope,
			Activity:  kind,
			Timestamp: time.Now(),
			Outcome:   prior.Status,
			Duration:  time.Since(observedStart),
			Resumed:   true,
			Error:     prior.Error,
		})
		return *prior, true, nil
	}

	rec := Record{Status: StatusRunning, StartedAt: time.Now()}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Record{}, false, err
		}
		if attempt > 0 {
			e.logger.Warn("retrying activity",
				slog.String("key", key),
				slog.Int("attempt", attempt+1),
			)
			select {
			case <-ctx.Done():
				return Record{}, false, ctx.Err()
			case <-time.After(e.cfg.RetryDelay):
			}
		}

		rec.Attempts = attempt + 1
		lastErr = e.invoke(ctx, p, c, kind)
		if lastErr == nil {
			break
		}
	}

	rec.CompletedAt = time.Now()
	duration := rec.CompletedAt.Sub(rec.StartedAt)

	if lastErr != nil {
		rec.Status = StatusFailed
		rec.Error = (&ActivityError{Package: c.pkg.Scope, Activity: kind, Err: lastErr}).Error()
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		if e.activityFailures != nil {
			e.activityFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", string(kind))))
		}
		e.logger.Error("activity failed",
			slog.String("run_id", runID),
			slog.String("key", key),
			slog.Int("attempts", rec.Attempts),
			slog.String("error", lastErr.Error()),
		)
	} else {
		rec.Status = StatusCompleted
		span.SetStatus(codes.Ok, "")
		e.logger.Info("activity completed",
			slog.String("run_id", runID),
			slog.String("key", key),
			slog.Duration("duration", duration),
		)
	}

	if e.activityLatency != nil {
		e.activityLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("activity", string(kind))),
		)
	}

	// Commit the terminal result before returning. First write wins:
	// a concurrent resume that raced us may already have committed.
	canonical, err := e.store.Put(ctx, runID, key, rec)
	if err != nil {
		span.RecordError(err)
		return Record{}, false, fmt.Errorf("checkpoint write %s: %w", key, err)
	}

	e.emit(Event{
		RunID:     runID,
		Package:   c.pkg.Scope,
		Activity:  kind,
		Timestamp: time.Now(),
		Outcome:   canonical.Status,
		Duration:  duration,
		Resumed:   false,
		Error:     canonical.Error,
	})

	return canonical, false, nil
}

// invoke performs the side effect for one activity kind.
func (e *Executor) invoke(ctx context.Context, p *plan.Plan, c chain, kind ActivityKind) error {
	tag := c.item.Tag()
	switch kind {
	case ActivityPublish:
		return e.collab.Publisher.Publish(ctx, c.pkg, c.item.NextVersion())
	case ActivityCreateTag:
		return e.collab.Tagger.CreateTagAt(ctx, tag, p.HeadSHA, releaseMessage(c.item))
	case ActivityPushTag:
		return e.collab.Tagger.PushTag(ctx, tag, false)
	case ActivityCreateRelease:
		return e.collab.Releaser.CreateRelease(ctx, tag, releaseNotes(c.item))
	default:
		return fmt.Errorf("unknown activity kind %q", kind)
	}
}

// releaseMessage is the annotated tag message.
func releaseMessage(item plan.ReleaseItem) string {
	return fmt.Sprintf("release %s (%s)", item.Tag(), item.Bump())
}

// releaseNotes is a plain-text summary for the external release.
// Rendering rich changelogs is out of scope here.
func releaseNotes(item plan.ReleaseItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", item.Tag())
	if triggers := item.TriggeredBy(); len(triggers) > 0 {
		fmt.Fprintf(&b, "Re-released due to changes in: %s\n", strings.Join(triggers, ", "))
	}
	for _, c := range item.Commits() {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Title(), c.ShortHash())
	}
	return b.String()
}
