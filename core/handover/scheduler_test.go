package handover

import (
	"context"
	"strings"
	"testing"
	"time"

	"shiftrelay/core/store"
)

func TestReminderSweepBeforeThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Early bird", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(20 * time.Minute)

	res, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 0 || res.Dispatched != 0 {
		t.Fatalf("sweep before threshold = %+v", res)
	}
	if got := env.sender.count(); got != 1 {
		t.Fatalf("messages = %d, want only the initiation mail", got)
	}
}

func TestReminderSweepIdempotentWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Slow response", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(40 * time.Minute)

	first, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Dispatched != 1 {
		t.Fatalf("first sweep = %+v, want one dispatch", first)
	}
	env.clock.Advance(5 * time.Minute)
	second, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Dispatched != 0 || second.Suppressed != 1 {
		t.Fatalf("second sweep = %+v, want suppression", second)
	}

	// Initiation mail plus exactly one reminder.
	msgs := env.sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Subject != "Reminder: Incident Handover Pending - Slow response" {
		t.Fatalf("reminder subject = %q", msgs[1].Subject)
	}
}

func TestReminderRepeatsInNextWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Still waiting", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(35 * time.Minute)
	if res, _ := env.scheduler.RunReminderSweep(ctx); res.Dispatched != 1 {
		t.Fatalf("first window dispatch missing")
	}
	env.clock.Advance(30 * time.Minute)
	res, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("second window sweep = %+v, want new reminder", res)
	}
}

func TestReminderSkipsDecidedIncident(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Resolved meanwhile", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(40 * time.Minute)
	if _, err := env.engine.AcceptIncident(ctx, id, "bob", "", testTenant); err != nil {
		t.Fatalf("accept: %v", err)
	}

	res, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dispatched != 0 {
		t.Fatalf("sweep = %+v, accepted incident must not be reminded", res)
	}
}

func TestEscalationAtMostOncePerEpisode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Forgotten", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(130 * time.Minute)

	first, err := env.scheduler.RunEscalationSweep(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Dispatched != 1 {
		t.Fatalf("first sweep = %+v", first)
	}
	env.clock.Advance(60 * time.Minute)
	second, err := env.scheduler.RunEscalationSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Dispatched != 0 || second.Suppressed != 1 {
		t.Fatalf("second sweep = %+v, want suppression", second)
	}

	// Escalation goes to the assignee and the team address.
	var escalations []sentMail
	for _, m := range env.sender.messages() {
		if strings.HasPrefix(m.Subject, "ESCALATION:") {
			escalations = append(escalations, m)
		}
	}
	if len(escalations) != 2 {
		t.Fatalf("escalation mails = %d, want assignee + team", len(escalations))
	}
	recipients := map[string]bool{}
	for _, m := range escalations {
		recipients[m.To] = true
	}
	if !recipients["bob@example.com"] || !recipients["team@example.com"] {
		t.Fatalf("escalation recipients = %v", recipients)
	}

	history, _ := env.engine.GetHandoverHistory(ctx, id)
	var escalated int
	for _, a := range history {
		if a.ActionType == store.ActionEscalated {
			escalated++
		}
	}
	if escalated != 1 {
		t.Fatalf("escalated audit rows = %d, want 1", escalated)
	}
}

func TestEscalationNewEpisodeEscalatesAgain(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "carol", "carol@example.com")
	ctx := context.Background()
	id := env.createIncident(t, "Bounced twice", "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.clock.Advance(130 * time.Minute)
	if res, _ := env.scheduler.RunEscalationSweep(ctx); res.Dispatched != 1 {
		t.Fatal("first episode did not escalate")
	}
	if _, err := env.engine.RejectIncident(ctx, id, "bob", "wrong team", testTenant); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.engine.InitiateHandover(ctx, id, "carol", 0, "alice", testTenant); err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	env.clock.Advance(130 * time.Minute)

	res, err := env.scheduler.RunEscalationSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("new episode sweep = %+v, want fresh escalation", res)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// ghost has an assignee with no directory entry; its dispatch fails
	// but the healthy incident still gets its reminder.
	ghost := env.createIncident(t, "Ghost assignee", "alice")
	if _, err := env.engine.InitiateHandover(ctx, ghost, "nobody", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate ghost: %v", err)
	}
	healthy := env.createIncident(t, "Healthy", "alice")
	if _, err := env.engine.InitiateHandover(ctx, healthy, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate healthy: %v", err)
	}
	env.clock.Advance(40 * time.Minute)

	res, err := env.scheduler.RunReminderSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 2 {
		t.Fatalf("scanned = %d, want 2", res.Scanned)
	}
	if res.Dispatched != 1 || res.Failed != 1 {
		t.Fatalf("sweep = %+v, want one dispatch and one failure", res)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.scheduler.StartWithContext(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Second start is a no-op.
	if err := env.scheduler.StartWithContext(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.scheduler.StopWithContext(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := env.scheduler.StopWithContext(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
