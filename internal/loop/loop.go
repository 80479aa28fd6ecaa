// Package loop drives the checker's forever loop: reconcile, then rounds of
// dispatch until the cycle budget elapses, grounded on this project's
// original run()/graceful-shutdown shape.
package loop

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"linkcheck/internal/config"
	"linkcheck/internal/exclusion"
	"linkcheck/internal/fetch"
	"linkcheck/internal/identstore"
	"linkcheck/internal/reconcile"
	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
	"linkcheck/internal/verdict"
	"linkcheck/internal/verdictsink"
	"linkcheck/internal/workset"
)

const emptyWorksetSleep = 60 * time.Second
const waitSleep = time.Second

// Phase identifies what the loop is currently doing, for the operator
// status surface.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseReconcile Phase = "reconcile"
	PhaseRound     Phase = "round"
)

// Status is a snapshot of the loop's current cycle, for GET /v1/status.
type Status struct {
	Phase           Phase
	CycleStart      time.Time
	Round           int
	WorksetOwners   int
	Dispatched      uint64
	WaitSleeps      uint64
	LastReconcile   reconcile.Stats
	LastReconcileAt time.Time
}

// Loop wires the reconciler, scheduler, fetcher, and verdict sink into the
// spec's forever-cycle control flow.
type Loop struct {
	cfg        *config.Config
	rows       rowstore.Store
	source     identstore.Client
	exclusions *exclusion.Registry
	scheduler  *workset.Scheduler
	fetcher    *fetch.Fetcher
	sink       verdictsink.Sink
	cron       cron.Schedule

	mu            sync.Mutex
	ownerLimiters map[string]*rate.Limiter

	statusMu sync.Mutex
	status   Status
}

// New builds a Loop. If cfg.TableUpdateCycleExpr parses as a standard cron
// expression, cycle boundaries follow that schedule; otherwise they follow
// cfg.TableUpdateCycle as a plain fixed interval.
func New(cfg *config.Config, rows rowstore.Store, source identstore.Client, exclusions *exclusion.Registry, sink verdictsink.Sink) *Loop {
	l := &Loop{
		cfg:           cfg,
		rows:          rows,
		source:        source,
		exclusions:    exclusions,
		scheduler:     workset.New(cfg.OwnerRevisitMinInterval, exclusions),
		fetcher:       fetch.New(cfg.CheckTimeout, cfg.UserAgent, cfg.MaxReadBytes),
		sink:          sink,
		ownerLimiters: make(map[string]*rate.Limiter),
	}
	if cfg.TableUpdateCycleExpr != "" {
		if sched, err := cron.ParseStandard(cfg.TableUpdateCycleExpr); err == nil {
			l.cron = sched
		}
	}
	return l
}

// nextCycleDeadline returns the wall-clock time the current cycle's round
// budget expires, per spec's TABLE_UPDATE_CYCLE semantics or, when
// configured, the next firing of the cron schedule.
func (l *Loop) nextCycleDeadline(cycleStart time.Time) time.Time {
	if l.cron != nil {
		return l.cron.Next(cycleStart)
	}
	return cycleStart.Add(l.cfg.TableUpdateCycle)
}

// Status returns a snapshot of the loop's current cycle for the operator
// HTTP surface.
func (l *Loop) Status() Status {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

func (l *Loop) setStatus(mutate func(*Status)) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	mutate(&l.status)
}

// OwnerLinks exposes the current round's workset for one owner, for
// GET /v1/owners/{owner_id}.
func (l *Loop) OwnerLinks(owner string) ([]row.Row, bool) {
	return l.scheduler.OwnerLinks(owner)
}

// Run drives the forever loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.runCycle(ctx)
	}
}

func (l *Loop) runCycle(ctx context.Context) {
	cycleStart := time.Now()
	l.setStatus(func(s *Status) { s.Phase = PhaseReconcile; s.CycleStart = cycleStart; s.Round = 0 })

	if err := l.exclusions.Refresh(cycleStart); err != nil {
		log.Printf("loop: refresh exclusions: %v", err)
	}

	rec := reconcile.New(l.rows, l.source, l.exclusions, l.cfg.NotifyThresh+1, 1000)
	stats, err := rec.Run(ctx)
	if err != nil {
		log.Printf("loop: reconcile cycle: %v", err)
	} else {
		log.Printf("loop: reconcile: inserted=%d deleted=%d updated=%d unchanged=%d skipped=%d",
			stats.Inserted, stats.Deleted, stats.Updated, stats.Unchanged, stats.SkippedErrors)
	}
	l.setStatus(func(s *Status) { s.LastReconcile = stats; s.LastReconcileAt = time.Now() })

	deadline := l.nextCycleDeadline(cycleStart)
	firstRound := true
	round := 0

	for firstRound || time.Until(deadline) > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.scheduler.Load(ctx, l.rows, time.Now(), l.cfg.BadRecheckMinInterval, l.cfg.GoodRecheckMinInterval, l.cfg.WorksetOwnerMaxLinks); err != nil {
			log.Printf("loop: load workset: %v", err)
		}

		if l.scheduler.Len() == 0 {
			l.setStatus(func(s *Status) { s.Phase = PhaseIdle })
			select {
			case <-ctx.Done():
				return
			case <-time.After(emptyWorksetSleep):
			}
			firstRound = false
			continue
		}

		round++
		l.setStatus(func(s *Status) { s.Phase = PhaseRound; s.Round = round; s.WorksetOwners = l.scheduler.Len() })

		var roundTimeout time.Duration
		if firstRound {
			roundTimeout = 0 // unbounded
		} else {
			remaining := time.Until(deadline)
			ceiling := time.Duration(l.cfg.WorksetOwnerMaxLinks) * (time.Second + l.cfg.OwnerRevisitMinInterval)
			roundTimeout = remaining
			if ceiling < roundTimeout {
				roundTimeout = ceiling
			}
		}

		l.runRound(ctx, roundTimeout)
		firstRound = false
	}
}

func (l *Loop) runRound(ctx context.Context, timeout time.Duration) {
	roundCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for i := 0; i < l.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.worker(roundCtx)
		}()
	}
	wg.Wait()
}

func (l *Loop) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dispatch := l.scheduler.NextLink(time.Now())
		switch dispatch.Status {
		case workset.Finished:
			return
		case workset.Wait:
			l.setStatus(func(s *Status) { s.WaitSleeps++ })
			select {
			case <-ctx.Done():
				return
			case <-time.After(waitSleep):
			}
			continue
		}

		r := dispatch.Row
		out := l.fetcher.Check(ctx, r.Target, l.limiterFor(r.OwnerID))
		verdict.Apply(&r, out, out.Time)

		if err := l.rows.Update(ctx, r); err != nil {
			log.Printf("loop: persist verdict for %s: %v", r.Identifier, err)
		}
		l.setStatus(func(s *Status) { s.Dispatched++ })

		if report, ok := verdict.CheckNotificationWorthy(&r, l.cfg.NotifyThresh, l.cfg.NotifyMinSpan, out.Time); ok {
			if err := l.sink.Record(ctx, verdictsink.NewReport(report, out.Time)); err != nil {
				log.Printf("loop: record notification for %s: %v", r.Identifier, err)
			}
		}

		l.scheduler.MarkChecked(dispatch.Index, time.Now())
	}
}

// limiterFor returns the owner's optional rate.Limiter ceiling, or nil when
// MaxOwnerQPS is disabled (its zero value).
func (l *Loop) limiterFor(owner string) *rate.Limiter {
	if l.cfg.MaxOwnerQPS <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.ownerLimiters[owner]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.MaxOwnerQPS), 1)
		l.ownerLimiters[owner] = lim
	}
	return lim
}
