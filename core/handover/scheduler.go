package handover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"shiftrelay/config"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

// SweepResult summarizes one reminder or escalation pass.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Dispatched int `json:"dispatched"`
	Suppressed int `json:"suppressed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Scheduler drives the time-based side of the workflow: periodic reminder
// and escalation sweeps over the pending queue. Sweeps are idempotent;
// re-running one is always safe because delivery dedup lives in the
// notification ledger, not here.
type Scheduler struct {
	cfg        config.SchedulerConfig
	notifyCfg  config.NotificationsConfig
	incidents  store.IncidentsStore
	audits     store.HandoverAuditStore
	dispatcher *Dispatcher
	logger     *utils.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewScheduler(cfg config.SchedulerConfig, notifyCfg config.NotificationsConfig, incidents store.IncidentsStore, audits store.HandoverAuditStore, dispatcher *Dispatcher, logger *utils.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		notifyCfg:  notifyCfg,
		incidents:  incidents,
		audits:     audits,
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the scheduler clock. Tests only.
func (s *Scheduler) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Scheduler) StartWithContext(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.ReminderCron, func() {
		if _, err := s.RunReminderSweep(ctx); err != nil && s.logger != nil {
			s.logger.Errorf("scheduler: reminder sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: reminder cron %q: %w", s.cfg.ReminderCron, err)
	}
	if _, err := c.AddFunc(s.cfg.EscalationCron, func() {
		if _, err := s.RunEscalationSweep(ctx); err != nil && s.logger != nil {
			s.logger.Errorf("scheduler: escalation sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: escalation cron %q: %w", s.cfg.EscalationCron, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	if s.logger != nil {
		s.logger.Infof("scheduler: started (reminders %q, escalations %q)", s.cfg.ReminderCron, s.cfg.EscalationCron)
	}
	return nil
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunReminderSweep dispatches a reminder for every pending handover older
// than the reminder threshold. The dedup key is derived from the episode
// start plus the repeat window index, so each episode gets at most one
// reminder per window regardless of how many sweeps run inside it.
func (s *Scheduler) RunReminderSweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cutoff := now.Add(-s.notifyCfg.ReminderThreshold())
	return s.sweep(ctx, cutoff, func(ctx context.Context, inc *store.Incident) (sweepOutcome, error) {
		pending := now.Sub(*inc.HandoverInitiatedAt)
		window := int64(pending-s.notifyCfg.ReminderThreshold()) / int64(s.notifyCfg.ReminderRepeat())
		intent := &NotificationIntent{
			Incident:    inc,
			Kind:        store.NotifyReminder,
			Recipient:   derefStr(inc.HandoverAssignedTo),
			RecipientID: inc.HandoverAssignedToID,
			Episode:     *inc.HandoverInitiatedAt,
			DedupKey:    fmt.Sprintf("%d:%d", inc.HandoverInitiatedAt.Unix(), window),
			Tenant:      store.Tenant{AccountID: inc.AccountID, TeamID: inc.TeamID},
		}
		delivered, err := s.dispatcher.Dispatch(ctx, intent)
		if err != nil {
			return outcomeFailed, err
		}
		if !delivered {
			return outcomeSuppressed, nil
		}
		return outcomeDispatched, nil
	})
}

// RunEscalationSweep escalates pending handovers older than the escalation
// threshold. An episode escalates at most once; the dedup key is the
// episode start itself. A delivered escalation is recorded in the audit
// trail so reports can count it.
func (s *Scheduler) RunEscalationSweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cutoff := now.Add(-s.notifyCfg.EscalationThreshold())
	return s.sweep(ctx, cutoff, func(ctx context.Context, inc *store.Incident) (sweepOutcome, error) {
		episode := *inc.HandoverInitiatedAt
		intent := &NotificationIntent{
			Incident:    inc,
			Kind:        store.NotifyEscalation,
			Recipient:   derefStr(inc.HandoverAssignedTo),
			RecipientID: inc.HandoverAssignedToID,
			Episode:     episode,
			DedupKey:    fmt.Sprintf("%d", episode.Unix()),
			Tenant:      store.Tenant{AccountID: inc.AccountID, TeamID: inc.TeamID},
		}
		delivered, err := s.dispatcher.Dispatch(ctx, intent)
		if err != nil {
			return outcomeFailed, err
		}
		if !delivered {
			return outcomeSuppressed, nil
		}
		action := &store.HandoverAction{
			IncidentID:      inc.ID,
			ActionType:      store.ActionEscalated,
			ActionBy:        "system",
			ActionTimestamp: now,
			Notes:           fmt.Sprintf("Handover pending for %s, escalated to team", formatTimePending(now.Sub(episode))),
			ToEngineer:      derefStr(inc.HandoverAssignedTo),
			AccountID:       inc.AccountID,
			TeamID:          inc.TeamID,
		}
		if _, err := s.audits.AppendAction(ctx, action); err != nil {
			return outcomeDispatched, fmt.Errorf("record escalation for incident %d: %w", inc.ID, err)
		}
		return outcomeDispatched, nil
	})
}

type sweepOutcome int

const (
	outcomeDispatched sweepOutcome = iota
	outcomeSuppressed
	outcomeSkipped
	outcomeFailed
)

// sweep lists pending handovers initiated before cutoff, re-reads each one
// and applies fn with bounded concurrency. Items that left Pending between
// the list and the re-read are skipped. Per-item failures are counted and
// logged but never abort the pass.
func (s *Scheduler) sweep(ctx context.Context, cutoff time.Time, fn func(context.Context, *store.Incident) (sweepOutcome, error)) (SweepResult, error) {
	candidates, err := s.incidents.ListIncidents(ctx, store.IncidentFilter{
		HandoverStatus:  store.HandoverPending,
		InitiatedBefore: &cutoff,
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("list pending handovers: %w", err)
	}
	var dispatched, suppressed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i := range candidates {
		id := candidates[i].ID
		g.Go(func() error {
			inc, err := s.incidents.GetIncident(gctx, id)
			if err != nil {
				failed.Add(1)
				if s.logger != nil {
					s.logger.Errorf("sweep: reload incident %d: %v", id, err)
				}
				return nil
			}
			if inc == nil || inc.HandoverStatus != store.HandoverPending || inc.HandoverInitiatedAt == nil || inc.HandoverInitiatedAt.After(cutoff) {
				skipped.Add(1)
				return nil
			}
			outcome, err := fn(gctx, inc)
			if err != nil && s.logger != nil {
				s.logger.Errorf("sweep: incident %d: %v", id, err)
			}
			switch outcome {
			case outcomeDispatched:
				dispatched.Add(1)
			case outcomeSuppressed:
				suppressed.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return SweepResult{
		Scanned:    len(candidates),
		Dispatched: int(dispatched.Load()),
		Suppressed: int(suppressed.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}, nil
}
