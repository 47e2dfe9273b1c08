package handover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"shiftrelay/config"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

// MailSender is the injected outbound channel. Implementations must honor
// the context deadline; the dispatcher never retries.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotificationIntent describes one notification to render and deliver.
// Episode is the handover_initiated_at of the pending episode the
// notification belongs to; DedupKey, when set, makes delivery at-most-once
// per (incident, kind, key). An empty key gets a random one, which
// disables dedup for that dispatch.
type NotificationIntent struct {
	Incident    *store.Incident
	Kind        string
	Recipient   string
	RecipientID *int64
	Episode     time.Time
	DedupKey    string
	Tenant      store.Tenant
}

// Dispatcher renders notification intents into outbound mail and records
// every attempt in the notification ledger, successful or not. Channel
// failures are ledgered as failed and returned for logging only; they
// never propagate into the workflow write path.
type Dispatcher struct {
	ledger  store.NotificationsStore
	team    store.TeamStore
	sender  MailSender
	cfg     config.NotificationsConfig
	baseURL string
	logger  *utils.Logger
	now     func() time.Time
}

func NewDispatcher(ledger store.NotificationsStore, team store.TeamStore, sender MailSender, cfg config.NotificationsConfig, baseURL string, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:  ledger,
		team:    team,
		sender:  sender,
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the dispatcher clock. Tests only.
func (d *Dispatcher) SetNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Dispatch delivers one notification intent. It returns whether at least
// one recipient was delivered. A nil error with delivered=false means the
// dedup ledger suppressed the dispatch, which is expected behavior.
func (d *Dispatcher) Dispatch(ctx context.Context, intent *NotificationIntent) (bool, error) {
	if intent == nil || intent.Incident == nil {
		return false, errors.New("dispatch: nil intent")
	}
	key := intent.DedupKey
	if key == "" {
		key = uuid.Must(uuid.NewV4()).String()
	}
	entry := &store.HandoverNotification{
		IncidentID:       intent.Incident.ID,
		NotificationType: intent.Kind,
		Recipient:        intent.Recipient,
		RecipientID:      intent.RecipientID,
		DedupKey:         key,
		SentAt:           d.now(),
		DeliveryStatus:   store.DeliveryQueued,
		AccountID:        intent.Tenant.AccountID,
		TeamID:           intent.Tenant.TeamID,
	}
	reserved, err := d.ledger.Reserve(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("dispatch: reserve ledger entry: %w", err)
	}
	if !reserved {
		// Duplicate within the dedup window; not an error.
		return false, nil
	}
	recipients := d.resolveRecipients(ctx, intent)
	if len(recipients) == 0 {
		_ = d.ledger.MarkDelivery(ctx, entry.ID, store.DeliveryFailed, "no recipient address")
		return false, fmt.Errorf("dispatch: no address for %q", intent.Recipient)
	}
	subject, body, err := renderNotification(intent, d.baseURL, d.now())
	if err != nil {
		_ = d.ledger.MarkDelivery(ctx, entry.ID, store.DeliveryFailed, err.Error())
		return false, fmt.Errorf("dispatch: render %s: %w", intent.Kind, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout())
	defer cancel()
	delivered := false
	var sendErrs []error
	for _, to := range recipients {
		if err := d.sender.Send(sendCtx, to, subject, body); err != nil {
			sendErrs = append(sendErrs, fmt.Errorf("send to %s: %w", to, err))
			continue
		}
		delivered = true
	}
	status := store.DeliverySent
	errText := ""
	if !delivered {
		status = store.DeliveryFailed
	}
	if len(sendErrs) > 0 {
		errText = errors.Join(sendErrs...).Error()
	}
	if err := d.ledger.MarkDelivery(ctx, entry.ID, status, errText); err != nil && d.logger != nil {
		d.logger.Errorf("dispatch: mark delivery %d: %v", entry.ID, err)
	}
	if len(sendErrs) > 0 {
		return delivered, errors.Join(sendErrs...)
	}
	return delivered, nil
}

// resolveRecipients maps the recipient name to an email through the team
// directory. Escalations additionally go to the team-wide address.
func (d *Dispatcher) resolveRecipients(ctx context.Context, intent *NotificationIntent) []string {
	var res []string
	if name := strings.TrimSpace(intent.Recipient); name != "" && d.team != nil {
		member, err := d.team.GetMemberByName(ctx, name)
		if err != nil && d.logger != nil {
			d.logger.Errorf("dispatch: resolve %q: %v", name, err)
		}
		if member != nil && member.Active && strings.TrimSpace(member.Email) != "" {
			res = append(res, strings.TrimSpace(member.Email))
		}
	}
	if intent.Kind == store.NotifyEscalation {
		if team := strings.TrimSpace(d.cfg.TeamEmail); team != "" {
			res = append(res, team)
		}
	}
	return res
}
