// Package scheduler runs the periodic jobs: rank refresh, the weekly report,
// points-expiring reminders and the weekly bonus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fetch/internal/cache"
	"fetch/internal/featureflags"
	"fetch/internal/models"
	"fetch/internal/observability"
	"fetch/internal/service"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Job names double as the feature flags that switch them.
const (
	JobRankRefresh    = featureflags.RankRefresh
	JobWeeklyReport   = featureflags.WeeklyReport
	JobPointsExpiring = featureflags.PointsExpiring
	JobWeeklyBonus    = featureflags.WeeklyBonus
)

// Points expire pointsLifetime after signup. Each account is reminded once,
// in the day that starts reminderLeadTime before expiry.
const (
	pointsLifetime   = 30 * 24 * time.Hour
	reminderLeadTime = 3 * 24 * time.Hour
	accountBatchSize = 200
)

// A firing is claimed for jobLockTTL. Firings are keyed by minute, so the TTL
// only needs to outlast clock skew between instances.
const jobLockTTL = 10 * time.Minute

// Ranker recomputes cached ranks.
type Ranker interface {
	RefreshRanks(ctx context.Context) (*service.RefreshResult, error)
}

// Ledger is the slice of the ledger the jobs read and credit.
type Ledger interface {
	SummarySince(ctx context.Context, userID string, since time.Time) (service.GiftSummary, error)
	Credit(ctx context.Context, in service.CreditInput) (*service.PostingResult, error)
}

// Accounts lists accounts for fan-out jobs.
type Accounts interface {
	ListAll(ctx context.Context, batchSize int, fn func([]models.Account) error) error
	CreatedBetween(ctx context.Context, from, to time.Time) ([]models.Account, error)
}

// Config holds job schedules in robfig/cron syntax.
type Config struct {
	RankRefresh       string
	WeeklyReport      string
	PointsExpiring    string
	WeeklyBonus       string
	WeeklyBonusAmount int64
	Workers           int
}

// Scheduler owns the cron runner and the job implementations.
type Scheduler struct {
	cfg      Config
	flags    *featureflags.Manager
	ranker   Ranker
	ledger   Ledger
	accounts Accounts
	notifier service.Notifier

	rdb      *redis.Client
	instance string

	cron *cron.Cron
	jobs map[string]func(context.Context) (int, error)
	now  func() time.Time
}

// New wires a Scheduler. It does not start the cron runner.
func New(cfg Config, flags *featureflags.Manager, ranker Ranker, ledger Ledger, accounts Accounts, notifier service.Notifier) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	s := &Scheduler{
		cfg:      cfg,
		flags:    flags,
		ranker:   ranker,
		ledger:   ledger,
		accounts: accounts,
		notifier: notifier,
		instance: uuid.NewString(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.jobs = map[string]func(context.Context) (int, error){
		JobRankRefresh:    s.refreshRanks,
		JobWeeklyReport:   s.weeklyReport,
		JobPointsExpiring: s.pointsExpiring,
		JobWeeklyBonus:    s.weeklyBonus,
	}
	return s
}

// WithLock makes cron firings claim a redis lock first, so when several
// instances share rdb each firing runs on exactly one of them. A nil rdb runs
// every firing locally.
func (s *Scheduler) WithLock(rdb *redis.Client) *Scheduler {
	s.rdb = rdb
	return s
}

// Start registers every job with a non-empty schedule and starts the runner.
// Jobs run until Stop, each with its own context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{}
	s.cron = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))

	schedules := []struct{ job, spec string }{
		{JobRankRefresh, s.cfg.RankRefresh},
		{JobWeeklyReport, s.cfg.WeeklyReport},
		{JobPointsExpiring, s.cfg.PointsExpiring},
		{JobWeeklyBonus, s.cfg.WeeklyBonus},
	}
	for _, sc := range schedules {
		if sc.spec == "" {
			continue
		}
		job := sc.job
		if _, err := s.cron.AddFunc(sc.spec, func() { _ = s.runScheduled(ctx, job, s.now()) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job, sc.spec, err)
		}
	}
	s.cron.Start()
	observability.Logger.Info("scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.Bool("distributed_lock", s.rdb != nil),
	)
	return nil
}

// Stop halts the runner and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runScheduled runs the firing of job scheduled at firedAt, unless another
// instance has already claimed it.
func (s *Scheduler) runScheduled(ctx context.Context, job string, firedAt time.Time) error {
	if s.rdb != nil {
		slot := firedAt.UTC().Truncate(time.Minute)
		claimed, err := s.rdb.SetNX(ctx, cache.JobLockKey(job, slot), s.instance, jobLockTTL).Result()
		if err != nil {
			observability.ScheduledJobRuns.WithLabelValues(job, "error").Inc()
			observability.Logger.ErrorContext(ctx, "failed to claim scheduled job",
				slog.String("job", job),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("claim %s: %w", job, err)
		}
		if !claimed {
			observability.ScheduledJobRuns.WithLabelValues(job, "claimed_elsewhere").Inc()
			observability.Logger.DebugContext(ctx, "scheduled job claimed by another instance",
				slog.String("job", job),
				slog.Time("slot", slot),
			)
			return nil
		}
	}
	return s.Run(ctx, job)
}

// Run executes one job now if its flag is on. A switched-off job is skipped
// without error.
func (s *Scheduler) Run(ctx context.Context, job string) error {
	fn, ok := s.jobs[job]
	if !ok {
		return fmt.Errorf("unknown job %q", job)
	}
	if !s.flags.Enabled(job, "") {
		observability.ScheduledJobRuns.WithLabelValues(job, "skipped").Inc()
		return nil
	}

	span, ctx := observability.NewSpan(ctx, "Scheduler."+job)
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	attrs := []any{slog.String("job", job), slog.Int("processed", n), slog.Duration("duration", time.Since(start))}
	if err != nil {
		span.SetError(err)
		observability.ScheduledJobRuns.WithLabelValues(job, "error").Inc()
		observability.Logger.ErrorContext(ctx, "scheduled job failed", append(attrs, slog.String("error", err.Error()))...)
		return err
	}
	observability.ScheduledJobRuns.WithLabelValues(job, "ok").Inc()
	observability.Logger.InfoContext(ctx, "scheduled job finished", attrs...)
	return nil
}

func (s *Scheduler) refreshRanks(ctx context.Context) (int, error) {
	res, err := s.ranker.RefreshRanks(ctx)
	if err != nil {
		return 0, err
	}
	return res.Ranked, nil
}

func (s *Scheduler) weeklyReport(ctx context.Context) (int, error) {
	since := s.now().AddDate(0, 0, -7)
	return s.fanOut(ctx, func(ctx context.Context, a models.Account) (bool, error) {
		summary, err := s.ledger.SummarySince(ctx, a.ID, since)
		if err != nil {
			return false, err
		}
		if summary.Sent == 0 && summary.Received == 0 {
			return false, nil
		}
		_, err = s.notifier.Notify(ctx, service.NotifyInput{
			RecipientID: a.ID,
			Kind:        models.NotificationWeeklyReport,
			Title:       "Your week in points",
			Message:     fmt.Sprintf("This week you gifted %d points and received %d points.", summary.Sent, summary.Received),
		})
		return err == nil, err
	})
}

func (s *Scheduler) pointsExpiring(ctx context.Context) (int, error) {
	now := s.now()
	to := now.Add(-(pointsLifetime - reminderLeadTime))
	from := to.Add(-24 * time.Hour)
	accounts, err := s.accounts.CreatedBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	var sent int
	var errs []error
	for i := range accounts {
		a := &accounts[i]
		if a.Balance <= 0 {
			continue
		}
		expires := a.CreatedAt.Add(pointsLifetime)
		_, err := s.notifier.Notify(ctx, service.NotifyInput{
			RecipientID: a.ID,
			Kind:        models.NotificationPointsExpiring,
			Title:       "Your points are expiring soon",
			Message:     fmt.Sprintf("You have %d points that expire on %s. Gift them to a friend!", a.Balance, expires.Format("Jan 2")),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) weeklyBonus(ctx context.Context) (int, error) {
	if s.cfg.WeeklyBonusAmount <= 0 {
		return 0, nil
	}
	return s.fanOut(ctx, func(ctx context.Context, a models.Account) (bool, error) {
		_, err := s.ledger.Credit(ctx, service.CreditInput{
			AccountID: a.ID,
			Kind:      models.EntryKindBonus,
			Amount:    s.cfg.WeeklyBonusAmount,
			Message:   "Weekly bonus earned",
		})
		return err == nil, err
	})
}

// fanOut runs task for every account on a worker pool, one batch at a time.
// It returns how many tasks reported done; failures are summarized in the error.
func (s *Scheduler) fanOut(ctx context.Context, task func(context.Context, models.Account) (bool, error)) (int, error) {
	var done atomic.Int64
	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)

	err := s.accounts.ListAll(ctx, accountBatchSize, func(batch []models.Account) error {
		pool := pond.NewPool(s.cfg.Workers, pond.WithContext(ctx))
		for _, a := range batch {
			a := a
			pool.Submit(func() {
				ok, err := task(ctx, a)
				if err != nil {
					mu.Lock()
					if failed == 0 {
						firstErr = err
					}
					failed++
					mu.Unlock()
					return
				}
				if ok {
					done.Add(1)
				}
			})
		}
		pool.StopAndWait()
		return ctx.Err()
	})
	if err != nil {
		return int(done.Load()), err
	}
	if failed > 0 {
		return int(done.Load()), fmt.Errorf("%d tasks failed, first: %w", failed, firstErr)
	}
	return int(done.Load()), nil
}

// cronLogger routes robfig/cron logs to the service logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	observability.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	observability.Logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
