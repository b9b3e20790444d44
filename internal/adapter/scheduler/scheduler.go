package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/internal/util"
	"github.com/thushan/perch/pkg/eventbus"
)

const defaultPollInterval = 500 * time.Millisecond

// phase tracks where an account sits in the scheduling state machine.
// For any account at most one of {armed timer, queue entry, running
// worker} exists; stale heap entries are invalidated by generation.
type phase int

const (
	phaseIdle phase = iota
	phaseScheduled
	phaseQueued
	phaseRunning
)

type accountState struct {
	id         string
	phase      phase
	generation uint64
	priority   int
}

// Scheduler drives priority-cadenced scrape dispatch: a due-time heap
// arms one pending slot per active account, a ready queue orders due
// accounts by priority, and a bounded worker pool runs the fetch →
// store → alert pipeline. Registry change events re-evaluate scheduling
// immediately.
type Scheduler struct {
	mu     sync.Mutex
	states map[string]*accountState
	due    dueHeap
	ready  readyQueue
	seq    uint64

	cfg     config.SchedulerConfig
	workers int

	registry ports.AccountRegistry
	fetcher  ports.Fetcher
	samples  ports.SampleStore
	alerts   ports.AlertEvaluator
	bus      *eventbus.EventBus[domain.AccountChange]

	clock  ports.Clock
	random ports.RandomSource
	logger *logger.StyledLogger

	// pollInterval caps how long the timer loop sleeps, so externally
	// driven clocks still get observed promptly
	pollInterval time.Duration

	readyCh chan struct{}
	wakeCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	paused  bool
}

func New(cfg config.SchedulerConfig, workers int,
	registry ports.AccountRegistry, fetcher ports.Fetcher,
	samples ports.SampleStore, alerts ports.AlertEvaluator,
	bus *eventbus.EventBus[domain.AccountChange],
	clock ports.Clock, random ports.RandomSource, log *logger.StyledLogger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		states:       make(map[string]*accountState),
		cfg:          cfg,
		workers:      workers,
		registry:     registry,
		fetcher:      fetcher,
		samples:      samples,
		alerts:       alerts,
		bus:          bus,
		clock:        clock,
		random:       random,
		logger:       log,
		pollInterval: defaultPollInterval,
		readyCh:      make(chan struct{}, 1),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the timer loop and worker pool and subscribes to
// registry change events
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.paused = false
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if s.bus != nil {
		events, cancelSub := s.bus.Subscribe(ctx)
		s.wg.Add(1)
		go s.consumeEvents(ctx, events, cancelSub)
	}

	s.wg.Add(1)
	go s.timerLoop(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx)
	}

	s.logger.InfoWithCount("Scheduler started", s.workers, "unit", "workers")
	return nil
}

// Stop cancels all timers, drains the loops, and forgets queued work.
// In-flight fetches observe cancellation through their own context.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.due = nil
	s.ready = nil
	for id, st := range s.states {
		st.generation++
		if st.phase != phaseRunning {
			delete(s.states, id)
		}
	}
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
	return nil
}

// Pause stops new dispatches; in-flight work is left alone
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("Scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signalWorkers()
	s.logger.Info("Scheduler resumed")
}

// ScheduleAll arms a timer for every active account
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	active := true
	accounts, err := s.registry.List(ctx, ports.AccountFilter{Active: &active})
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := s.ScheduleAccount(ctx, account.ID); err != nil {
			return err
		}
	}
	s.logger.InfoWithCount("Accounts scheduled", len(accounts))
	return nil
}

// ScheduleAccount (re-)arms the account's single pending timer. An
// inactive account is descheduled instead. A running account is left
// alone; its completion path re-arms it with fresh data.
func (s *Scheduler) ScheduleAccount(ctx context.Context, id string) error {
	account, err := s.registry.Get(ctx, id)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			s.deschedule(id, true)
		}
		return err
	}
	if !account.Active {
		s.deschedule(id, false)
		return nil
	}

	delay := s.delayFor(account)
	s.armTimer(account.ID, account.Priority, s.clock.Now().Add(delay))
	s.logger.Debug("Scrape scheduled",
		"account", account.Username, "priority", account.Priority, "delay", delay)
	return nil
}

// delayFor derives the next-fetch delay from the priority cadence with
// jitter, credited for time already elapsed since the last scrape.
// Never-scraped accounts get a small random splay so startup doesn't
// fire everything at once.
func (s *Scheduler) delayFor(account *domain.Account) time.Duration {
	if account.LastScrapedAt == nil {
		return s.splay()
	}

	interval := util.Jitter(s.cfg.Cadence.IntervalFor(account.Priority), s.cfg.JitterPercent, s.random.Float64())
	elapsed := s.clock.Now().Sub(*account.LastScrapedAt)
	delay := util.BoundedDelay(interval-elapsed, 0)
	if delay == 0 {
		// Overdue: still splay slightly so a bulk (re)schedule staggers
		return s.splay()
	}
	return delay
}

func (s *Scheduler) splay() time.Duration {
	if s.cfg.StartupSplayMax <= 0 {
		return 0
	}
	return time.Duration(s.random.Int63n(int64(s.cfg.StartupSplayMax)))
}

// Prioritize jumps an account to the head of the ready queue. A running
// account is reported as such without duplicating work.
func (s *Scheduler) Prioritize(ctx context.Context, id string) (ports.PrioritizeOutcome, error) {
	account, err := s.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !account.Active {
		return "", domain.NewValidationError("account", id, "not active")
	}

	s.mu.Lock()
	st := s.stateLocked(id)
	if st.phase == phaseRunning {
		s.mu.Unlock()
		return ports.PrioritizeRunning, nil
	}

	st.generation++
	st.phase = phaseQueued
	st.priority = account.Priority
	s.seq++
	s.ready.push(&readyEntry{
		accountID:  id,
		priority:   account.Priority,
		manual:     true,
		queuedAt:   s.clock.Now(),
		seq:        s.seq,
		generation: st.generation,
	})
	s.mu.Unlock()

	s.signalWorkers()
	s.logger.InfoWithAccount("Scrape prioritised", account.Username, "id", id)
	return ports.PrioritizeQueued, nil
}

// Status reports a point-in-time snapshot for the status endpoint
func (s *Scheduler) Status() ports.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ports.SchedulerStatus{
		Workers: s.workers,
		Paused:  s.paused,
	}
	for id, st := range s.states {
		switch st.phase {
		case phaseRunning:
			status.Running = append(status.Running, id)
		case phaseQueued:
			status.QueueSize++
		case phaseScheduled:
			status.Scheduled++
		}
	}
	return status
}

// armTimer moves the account to the scheduled phase with a fresh
// generation, invalidating any prior timer or queue entry
func (s *Scheduler) armTimer(id string, priority int, dueAt time.Time) {
	s.mu.Lock()
	st := s.stateLocked(id)
	if st.phase == phaseRunning {
		// Completion path reschedules with fresh data; arming now would
		// break the one-slot-per-account guarantee
		s.mu.Unlock()
		return
	}
	st.generation++
	st.phase = phaseScheduled
	st.priority = priority
	s.due.push(&dueEntry{accountID: id, dueAt: dueAt, generation: st.generation})
	s.mu.Unlock()

	s.wakeTimerLoop()
}

// deschedule invalidates any pending slot; forget drops the state
// entirely (account deleted)
func (s *Scheduler) deschedule(id string, forget bool) {
	s.mu.Lock()
	if st, exists := s.states[id]; exists {
		st.generation++
		if st.phase != phaseRunning {
			st.phase = phaseIdle
			if forget {
				delete(s.states, id)
			}
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) stateLocked(id string) *accountState {
	st, exists := s.states[id]
	if !exists {
		st = &accountState{id: id}
		s.states[id] = st
	}
	return st
}

// timerLoop promotes due timers into the ready queue. It sleeps until
// the earliest due time, capped by the poll interval so synthetic
// clocks are observed.
func (s *Scheduler) timerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		promoted := s.promoteDue()
		if promoted {
			s.signalWorkers()
		}

		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) promoteDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	promoted := false
	for {
		head := s.due.peek()
		if head == nil || head.dueAt.After(now) {
			break
		}
		entry := s.due.pop()

		st, exists := s.states[entry.accountID]
		if !exists || st.phase != phaseScheduled || st.generation != entry.generation {
			continue
		}

		st.generation++
		st.phase = phaseQueued
		s.seq++
		s.ready.push(&readyEntry{
			accountID:  st.id,
			priority:   st.priority,
			queuedAt:   now,
			seq:        s.seq,
			generation: st.generation,
		})
		promoted = true
	}
	return promoted
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.pollInterval
	if head := s.due.peek(); head != nil {
		if d := head.dueAt.Sub(s.clock.Now()); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (s *Scheduler) runWorker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.readyCh:
		}

		for {
			select {
			case <-s.stopCh:
				return
			default:
			}

			id, ok := s.claimNext()
			if !ok {
				break
			}
			// More work may remain; wake another worker before running
			s.signalWorkers()
			s.dispatch(ctx, id)
		}
	}
}

// claimNext pops the highest-ranked valid ready entry and marks its
// account running
func (s *Scheduler) claimNext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return "", false
	}
	for {
		entry := s.ready.pop()
		if entry == nil {
			return "", false
		}
		st, exists := s.states[entry.accountID]
		if !exists || st.phase != phaseQueued || st.generation != entry.generation {
			continue
		}
		st.generation++
		st.phase = phaseRunning
		return entry.accountID, true
	}
}

// dispatch runs one fetch for one account and always re-arms its next
// slot afterwards
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	account, err := s.registry.Get(ctx, id)
	if err != nil || !account.Active {
		s.finishRun(id)
		return
	}

	sample, fetchErr := s.fetcher.Fetch(ctx, account)
	now := s.clock.Now()

	switch {
	case fetchErr == nil:
		s.ingest(ctx, account, sample)

	case errors.Is(fetchErr, domain.ErrNoProxyAvailable):
		// Short-delay retry: not an account failure, just resource famine
		s.logger.WarnWithAccount("No proxy available, retrying shortly", account.Username,
			"retry_in", s.cfg.RetryDelay)
		s.retryShortly(id, account.Priority, now)
		return

	case domain.IsCancelled(fetchErr):
		// Shutdown path: finalize quietly

	default:
		s.logger.WarnWithAccount("Scrape failed", account.Username, "error", fetchErr.Error())
		if recErr := s.registry.RecordError(ctx, id, &domain.ScrapeError{Message: fetchErr.Error(), At: now}); recErr != nil {
			s.logger.Warn("Failed to record scrape error", "account_id", id, "error", recErr)
		}
		// A gone account (or a caller mistake) will not heal on its own;
		// park it until an operator intervenes
		if !domain.IsRetryable(fetchErr) {
			s.finishRun(id)
			return
		}
	}

	s.finishRun(id)
	if err := s.ScheduleAccount(ctx, id); err != nil {
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			s.logger.Warn("Failed to reschedule account", "account_id", id, "error", err)
		}
	}
}

// ingest stores a successful sample, evaluates alerts, and stamps the
// account's scrape bookkeeping
func (s *Scheduler) ingest(ctx context.Context, account *domain.Account, sample *domain.Sample) {
	if err := s.samples.Put(ctx, sample); err != nil {
		s.logger.WarnWithAccount("Failed to store sample", account.Username, "error", err)
		return
	}
	if s.alerts != nil {
		if _, err := s.alerts.Evaluate(ctx, sample); err != nil {
			s.logger.WarnWithAccount("Alert evaluation failed", account.Username, "error", err)
		}
	}
	if err := s.registry.RecordScrape(ctx, account.ID, sample.ObservedAt); err != nil {
		s.logger.WarnWithAccount("Failed to record scrape", account.Username, "error", err)
	}
}

// finishRun transitions a running account back to idle so it can be
// re-armed
func (s *Scheduler) finishRun(id string) {
	s.mu.Lock()
	if st, exists := s.states[id]; exists && st.phase == phaseRunning {
		st.generation++
		st.phase = phaseIdle
	}
	s.mu.Unlock()
}

// retryShortly re-arms a famine-delayed account directly, bypassing the
// cadence credit
func (s *Scheduler) retryShortly(id string, priority int, now time.Time) {
	s.finishRun(id)
	s.armTimer(id, priority, now.Add(s.cfg.RetryDelay))
}

func (s *Scheduler) consumeEvents(ctx context.Context, events <-chan domain.AccountChange, cancelSub func()) {
	defer s.wg.Done()
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case change, ok := <-events:
			if !ok {
				return
			}
			switch change.Kind {
			case domain.ChangeDeleted:
				s.deschedule(change.AccountID, true)
			case domain.ChangeDeactivated:
				s.deschedule(change.AccountID, false)
			default:
				if err := s.ScheduleAccount(ctx, change.AccountID); err != nil {
					s.logger.Debug("Change event scheduling skipped",
						"account_id", change.AccountID, "error", err)
				}
			}
		}
	}
}

func (s *Scheduler) signalWorkers() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) wakeTimerLoop() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}
