package handover

import (
	"context"
	"strings"
	"testing"

	"shiftrelay/core/store"
)

func pendingIntent(env *testEnv, t *testing.T, incidentID int64, dedupKey string) *NotificationIntent {
	t.Helper()
	inc, err := env.incidents.GetIncident(context.Background(), incidentID)
	if err != nil || inc == nil {
		t.Fatalf("get incident: %v", err)
	}
	return &NotificationIntent{
		Incident:  inc,
		Kind:      store.NotifyReminder,
		Recipient: "bob",
		Episode:   env.clock.Now(),
		DedupKey:  dedupKey,
		Tenant:    testTenant,
	}
}

func TestDispatchDedupByKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Dedup", "alice")

	delivered, err := env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "episode-1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !delivered {
		t.Fatal("first dispatch not delivered")
	}
	delivered, err = env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "episode-1"))
	if err != nil {
		t.Fatalf("duplicate dispatch errored: %v", err)
	}
	if delivered {
		t.Fatal("duplicate key was delivered")
	}
	if got := env.sender.count(); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}

	// A different key is a fresh delivery.
	delivered, err = env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "episode-2"))
	if err != nil || !delivered {
		t.Fatalf("new key dispatch = %v, %v", delivered, err)
	}
}

func TestDispatchEmptyKeyNeverDedups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "No key", "alice")

	for i := 0; i < 2; i++ {
		delivered, err := env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, ""))
		if err != nil || !delivered {
			t.Fatalf("dispatch %d = %v, %v", i, delivered, err)
		}
	}
	if got := env.sender.count(); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
}

func TestDispatchLedgersFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sender.fail = true
	ctx := context.Background()
	id := env.createIncident(t, "Broken relay", "alice")

	delivered, err := env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "fail-key"))
	if err == nil {
		t.Fatal("expected send error")
	}
	if delivered {
		t.Fatal("failed send reported as delivered")
	}
	entries, err := env.notifications.ListByIncident(ctx, id)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(entries))
	}
	if entries[0].DeliveryStatus != store.DeliveryFailed {
		t.Fatalf("delivery status = %s, want failed", entries[0].DeliveryStatus)
	}
	if !strings.Contains(entries[0].Error, "smtp unavailable") {
		t.Fatalf("ledger error = %q", entries[0].Error)
	}

	// The reserved key still suppresses a retry with the same key.
	delivered, err = env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "fail-key"))
	if err != nil || delivered {
		t.Fatalf("retry with used key = %v, %v", delivered, err)
	}
}

func TestDispatchUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Nobody home", "alice")

	intent := pendingIntent(env, t, id, "ghost-key")
	intent.Recipient = "ghost"
	delivered, err := env.dispatcher.Dispatch(ctx, intent)
	if err == nil || delivered {
		t.Fatalf("dispatch to unknown recipient = %v, %v", delivered, err)
	}
	entries, _ := env.notifications.ListByIncident(ctx, id)
	if len(entries) != 1 || entries[0].DeliveryStatus != store.DeliveryFailed {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestDispatchRendersIncidentLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.createIncident(t, "Linked", "alice")

	if _, err := env.dispatcher.Dispatch(ctx, pendingIntent(env, t, id, "link-key")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msg := env.sender.messages()[0]
	if !strings.Contains(msg.Body, "http://relay.local/incidents/") {
		t.Fatalf("body missing incident link: %q", msg.Body)
	}
}
