// Package notify finds overdue cards and publishes one notice per card and
// due date.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const dedupeScope = "overdue"

// Source lists overdue cards. *domain.CardService satisfies it.
type Source interface {
	OverdueOwners(ctx context.Context) ([]string, error)
	ListOverdue(ctx context.Context, userID string) ([]domain.OverdueCard, error)
}

// Publisher delivers notices downstream.
type Publisher interface {
	Publish(ctx context.Context, notices []domain.OverdueNotice) error
}

// Deduper remembers which notices were already sent.
type Deduper interface {
	AddMany(ctx context.Context, scope string, keys []string) ([]bool, error)
	Remove(ctx context.Context, scope, key string) error
}

// Config sizes the worker pool.
type Config struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// Result summarises one sweep.
type Result struct {
	Users     int
	Published int
	Skipped   int
	Failed    int
	Deferred  int
}

type outcome struct {
	published int
	skipped   int
	err       error
}

type job struct {
	userID string
	now    time.Time
	report func(outcome)
}

// Sweeper owns a fixed pool of workers processing one user per job.
type Sweeper struct {
	src    Source
	pub    Publisher
	dedupe Deduper
	cfg    Config
	log    *log.Logger
	now    func() time.Time
	bg     context.Context

	mu     sync.RWMutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup
}

// New starts the worker pool. A nil deduper publishes every overdue card on
// every sweep.
func New(src Source, pub Publisher, dedupe Deduper, cfg Config, logger *log.Logger) *Sweeper {
	if logger == nil {
		panic("notify.New: logger is nil")
	}
	cfg = cfg.withDefaults()
	s := &Sweeper{
		src:    src,
		pub:    pub,
		dedupe: dedupe,
		cfg:    cfg,
		log:    logger,
		now:    time.Now,
		bg:     context.Background(),
		jobs:   make(chan job, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Infof("overdue sweeper started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return s
}

// Stop drains queued jobs and waits for the workers to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Sweep hands every owner of an overdue card to the pool and waits for the
// jobs to finish. Owners that cannot be handed off within the handoff timeout
// are counted as deferred and picked up by the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	owners, err := s.src.OverdueOwners(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		res  = Result{Users: len(owners)}
		mu   sync.Mutex
		done sync.WaitGroup
		errs []error
	)
	report := func(o outcome) {
		mu.Lock()
		res.Published += o.published
		res.Skipped += o.skipped
		if o.err != nil {
			res.Failed++
			errs = append(errs, o.err)
		}
		mu.Unlock()
		done.Done()
	}

	for _, userID := range owners {
		done.Add(1)
		if !s.tryEnqueue(ctx, job{userID: userID, now: now, report: report}) {
			done.Done()
			mu.Lock()
			res.Deferred++
			mu.Unlock()
		}
	}
	done.Wait()
	return res, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			entry := s.log.WithFields(log.Fields{
				"users":     res.Users,
				"published": res.Published,
				"skipped":   res.Skipped,
				"failed":    res.Failed,
				"deferred":  res.Deferred,
			})
			if err != nil {
				entry.WithError(err).Error("overdue sweep finished with errors")
				continue
			}
			entry.Debug("overdue sweep finished")
		}
	}
}

func (s *Sweeper) tryEnqueue(ctx context.Context, j job) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.jobs <- j:
		return true
	default:
	}
	if s.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- j:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Sweeper) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		ctx, cancel := context.WithTimeout(s.bg, s.cfg.PublishTimeout)
		o := s.process(ctx, j)
		cancel()
		if o.err != nil {
			s.log.Errorf("overdue notify failed, err: %v, user: %s, worker: %d", o.err, j.userID, id)
		}
		j.report(o)
	}
}

// process publishes notices for the user's overdue cards that were not sent
// before. Dedupe keys of undelivered notices are rolled back so the next sweep
// retries exactly those.
func (s *Sweeper) process(ctx context.Context, j job) outcome {
	cards, err := s.src.ListOverdue(ctx, j.userID)
	if err != nil {
		return outcome{err: err}
	}
	if len(cards) == 0 {
		return outcome{}
	}

	notices := make([]domain.OverdueNotice, 0, len(cards))
	for _, c := range cards {
		notices = append(notices, domain.NewOverdueNotice(j.userID, c, j.now))
	}

	var fresh []domain.OverdueNotice
	if s.dedupe == nil {
		fresh = notices
	} else {
		keys := dedupeKeys(notices)
		results, err := s.dedupe.AddMany(ctx, dedupeScope, keys)
		var added []string
		for i, ok := range results {
			if ok {
				added = append(added, keys[i])
				fresh = append(fresh, notices[i])
			}
		}
		if err != nil {
			s.rollback(j.userID, added)
			return outcome{err: err}
		}
	}

	skipped := len(notices) - len(fresh)
	if len(fresh) == 0 {
		return outcome{skipped: skipped}
	}
	if err := s.pub.Publish(ctx, fresh); err != nil {
		undelivered := fresh
		var pe *domain.PublishError
		if errors.As(err, &pe) {
			undelivered = pe.Failed
		}
		if s.dedupe != nil {
			s.rollback(j.userID, dedupeKeys(undelivered))
		}
		return outcome{published: len(fresh) - len(undelivered), skipped: skipped, err: err}
	}
	return outcome{published: len(fresh), skipped: skipped}
}

func dedupeKeys(notices []domain.OverdueNotice) []string {
	keys := make([]string, len(notices))
	for i, n := range notices {
		keys[i] = n.DedupeKey()
	}
	return keys
}

func (s *Sweeper) rollback(userID string, keys []string) {
	for _, k := range keys {
		if err := s.dedupe.Remove(s.bg, dedupeScope, k); err != nil {
			s.log.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", err, k, userID)
		}
	}
}

// LogPublisher writes notices to the log when no queue is configured.
type LogPublisher struct {
	Log *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, notices []domain.OverdueNotice) error {
	for _, n := range notices {
		p.Log.WithFields(log.Fields{
			"user":    n.UserID,
			"card":    n.CardID,
			"title":   n.Title,
			"board":   n.BoardTitle,
			"column":  n.ColumnTitle,
			"dueDate": n.DueDate.Format(time.RFC3339),
		}).Info("card overdue")
	}
	return nil
}
