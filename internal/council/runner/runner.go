// Package runner claims runnable deliberation sessions and drives them
// through the pipeline. Claims are leases held by heartbeat: a runner that
// dies simply stops heartbeating and its sessions become claimable again
// once the stale window passes.
package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/council/pipeline"
	"github.com/roundtablehq/roundtable-backend/internal/data/repos"
	types "github.com/roundtablehq/roundtable-backend/internal/domain"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/dbctx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

const (
	defaultPollInterval      = 1 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultStaleAfter        = 2 * time.Minute
	defaultConcurrency       = 4
)

type Runner struct {
	sessions repos.SessionRepo
	engine   pipeline.Orchestrator
	log      *logger.Logger

	identity      string
	pollInterval  time.Duration
	heartbeatEvery time.Duration
	staleAfter    time.Duration
	slots         chan struct{}
}

func New(sessions repos.SessionRepo, engine pipeline.Orchestrator, baseLog *logger.Logger) *Runner {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "runner"
	}
	concurrency := envutil.Int("RUNNER_CONCURRENCY", defaultConcurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		sessions:      sessions,
		engine:        engine,
		log:           baseLog.With("component", "SessionRunner"),
		identity:      fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
		pollInterval:  envutil.Duration("RUNNER_POLL_INTERVAL", defaultPollInterval),
		heartbeatEvery: envutil.Duration("RUNNER_HEARTBEAT_INTERVAL", defaultHeartbeatInterval),
		staleAfter:    envutil.Duration("RUNNER_STALE_AFTER", defaultStaleAfter),
		slots:         make(chan struct{}, concurrency),
	}
}

func (r *Runner) Identity() string { return r.identity }

// Run polls for work until ctx is canceled, then waits for in-flight
// sessions to hand back their ticks.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("session runner started",
		"identity", r.identity,
		"concurrency", cap(r.slots),
		"poll_interval", r.pollInterval.String(),
		"stale_after", r.staleAfter.String())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.log.Info("session runner stopped", "identity", r.identity)
			return nil
		case <-ticker.C:
			r.claimLoop(ctx, &wg)
		}
	}
}

// claimLoop drains the runnable queue until it comes up empty or every slot
// is busy.
func (r *Runner) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	for {
		select {
		case r.slots <- struct{}{}:
		default:
			return
		}

		session, err := r.sessions.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, r.identity, r.staleAfter)
		if err != nil {
			<-r.slots
			if ctx.Err() == nil {
				r.log.Warn("claim failed", "error", err)
				if metrics := observability.Current(); metrics != nil {
					metrics.IncRunnerClaim("error")
				}
			}
			return
		}
		if session == nil {
			<-r.slots
			return
		}

		if metrics := observability.Current(); metrics != nil {
			metrics.IncRunnerClaim("claimed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-r.slots }()
			r.runSession(ctx, session)
		}()
	}
}

func (r *Runner) runSession(ctx context.Context, session *types.DeliberationSession) {
	log := r.log.With("session_id", session.ID.String(), "tenant_id", session.TenantID.String())
	log.Info("claimed session", "status", session.Status)

	stopHeartbeat := r.keepAlive(ctx, session.ID)
	defer stopHeartbeat()

	var progress *pipeline.Progress
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("pipeline panic", "panic", rec)
				// A panicking session would crash-loop through stale-claim
				// recovery; settle it instead.
				if _, abortErr := r.engine.Abort(context.WithoutCancel(ctx), session.ID, "internal pipeline error"); abortErr != nil {
					log.Error("abort after panic failed", "error", abortErr)
				}
			}
		}()
		progress, err = r.engine.Run(ctx, session.ID)
	}()

	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("shutdown mid-session, leaving claim to expire")
	case err != nil:
		log.Error("session run failed, claim left to expire", "error", err)
	case progress != nil:
		log.Info("session run finished", "status", progress.Status)
	}
}

// keepAlive renews the claim lease until the returned stop func is called.
func (r *Runner) keepAlive(ctx context.Context, sessionID uuid.UUID) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.sessions.Heartbeat(dbctx.Context{Ctx: ctx}, sessionID, r.identity); err != nil {
					r.log.Warn("heartbeat failed", "session_id", sessionID.String(), "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
