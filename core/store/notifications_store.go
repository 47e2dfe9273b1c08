package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const (
	NotifyPendingHandover        = "pending_handover"
	NotifyReminder               = "reminder"
	NotifyEscalation             = "escalation"
	NotifyAcceptanceConfirmation = "acceptance_confirmation"
	NotifyRejectionNotification  = "rejection_notification"
)

const (
	DeliveryQueued     = "queued"
	DeliverySent       = "sent"
	DeliveryFailed     = "failed"
	DeliverySuppressed = "suppressed"
)

// HandoverNotification is one row of the dedup ledger; one per dispatch
// attempt, keyed by (incident, type, dedup_key) for at-most-once semantics.
type HandoverNotification struct {
	ID               int64     `json:"id"`
	IncidentID       int64     `json:"incident_id"`
	NotificationType string    `json:"notification_type"`
	Recipient        string    `json:"recipient"`
	RecipientID      *int64    `json:"recipient_id,omitempty"`
	DedupKey         string    `json:"dedup_key"`
	SentAt           time.Time `json:"sent_at"`
	DeliveryStatus   string    `json:"delivery_status"`
	Error            string    `json:"error,omitempty"`
	AccountID        int64     `json:"account_id"`
	TeamID           int64     `json:"team_id"`
}

type NotificationsStore interface {
	// Reserve inserts the ledger row for a dispatch attempt. It returns
	// false with a nil error when a row with the same dedup key already
	// exists, which is how concurrent sweeps lose the race exactly once.
	Reserve(ctx context.Context, n *HandoverNotification) (bool, error)
	MarkDelivery(ctx context.Context, id int64, status, deliveryErr string) error
	LastOfType(ctx context.Context, incidentID int64, notificationType string) (*HandoverNotification, error)
	SentSince(ctx context.Context, incidentID int64, notificationType string, since time.Time) (bool, error)
	ListByIncident(ctx context.Context, incidentID int64) ([]HandoverNotification, error)
}

type notificationsStore struct {
	db *DB
}

func NewNotificationsStore(db *DB) NotificationsStore {
	return &notificationsStore{db: db}
}

const notificationColumns = `id, incident_id, notification_type, recipient, recipient_id, dedup_key, sent_at, delivery_status, error, account_id, team_id`

func (s *notificationsStore) Reserve(ctx context.Context, n *HandoverNotification) (bool, error) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = DeliveryQueued
	}
	if s.db.Driver() == DriverPostgres {
		row := s.db.QueryRowContext(ctx, s.db.Rebind(`
			INSERT INTO handover_notifications(incident_id, notification_type, recipient, recipient_id, dedup_key, sent_at, delivery_status, error, account_id, team_id)
			VALUES(?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (incident_id, notification_type, dedup_key) DO NOTHING
			RETURNING id`),
			n.IncidentID, n.NotificationType, n.Recipient, nullableID(n.RecipientID), n.DedupKey,
			n.SentAt.UTC(), n.DeliveryStatus, n.Error, n.AccountID, n.TeamID)
		if err := row.Scan(&n.ID); err != nil {
			if err == sql.ErrNoRows {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO handover_notifications(incident_id, notification_type, recipient, recipient_id, dedup_key, sent_at, delivery_status, error, account_id, team_id)
		VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (incident_id, notification_type, dedup_key) DO NOTHING`,
		n.IncidentID, n.NotificationType, n.Recipient, nullableID(n.RecipientID), n.DedupKey,
		n.SentAt.UTC(), n.DeliveryStatus, n.Error, n.AccountID, n.TeamID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	n.ID, _ = res.LastInsertId()
	return true, nil
}

func (s *notificationsStore) MarkDelivery(ctx context.Context, id int64, status, deliveryErr string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE handover_notifications SET delivery_status=?, error=?, sent_at=? WHERE id=?`),
		status, strings.TrimSpace(deliveryErr), time.Now().UTC(), id)
	return err
}

func (s *notificationsStore) LastOfType(ctx context.Context, incidentID int64, notificationType string) (*HandoverNotification, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+notificationColumns+` FROM handover_notifications
		WHERE incident_id=? AND notification_type=? ORDER BY sent_at DESC, id DESC LIMIT 1`),
		incidentID, notificationType)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func (s *notificationsStore) SentSince(ctx context.Context, incidentID int64, notificationType string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(*) FROM handover_notifications
		WHERE incident_id=? AND notification_type=? AND sent_at>=? AND delivery_status!=?`),
		incidentID, notificationType, since.UTC(), DeliverySuppressed).Scan(&count)
	return count > 0, err
}

func (s *notificationsStore) ListByIncident(ctx context.Context, incidentID int64) ([]HandoverNotification, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+notificationColumns+` FROM handover_notifications
		WHERE incident_id=? ORDER BY sent_at DESC, id DESC`), incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []HandoverNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *n)
	}
	return res, rows.Err()
}

func scanNotification(row rowScanner) (*HandoverNotification, error) {
	var n HandoverNotification
	var recipientID sql.NullInt64
	err := row.Scan(&n.ID, &n.IncidentID, &n.NotificationType, &n.Recipient, &recipientID, &n.DedupKey,
		&n.SentAt, &n.DeliveryStatus, &n.Error, &n.AccountID, &n.TeamID)
	if err != nil {
		return nil, err
	}
	if recipientID.Valid {
		n.RecipientID = &recipientID.Int64
	}
	n.SentAt = n.SentAt.UTC()
	return &n, nil
}
