package store

import (
	"context"
	"database/sql"
	"time"
)

const (
	ActionInitiated  = "initiated"
	ActionAccepted   = "accepted"
	ActionRejected   = "rejected"
	ActionReassigned = "reassigned"
	ActionEscalated  = "escalated"
)

// HandoverAction is one immutable audit record of a workflow transition.
type HandoverAction struct {
	ID              int64     `json:"id"`
	IncidentID      int64     `json:"incident_id"`
	ActionType      string    `json:"action_type"`
	ActionBy        string    `json:"action_by"`
	ActionByID      *int64    `json:"action_by_id,omitempty"`
	ActionTimestamp time.Time `json:"action_timestamp"`
	Notes           string    `json:"notes"`
	FromEngineer    string    `json:"from_engineer,omitempty"`
	ToEngineer      string    `json:"to_engineer,omitempty"`
	AccountID       int64     `json:"account_id"`
	TeamID          int64     `json:"team_id"`
}

type ActionFilter struct {
	Start      time.Time
	End        time.Time
	ActionType string
	ActionBy   string
	AccountID  int64
	TeamID     int64
}

// HandoverAuditStore is the append-only ledger of handover transitions.
// It deliberately exposes no update or delete operations; rows written
// through AppendAction (or inside TransitionHandover) are final.
type HandoverAuditStore interface {
	AppendAction(ctx context.Context, action *HandoverAction) (int64, error)
	ListByIncident(ctx context.Context, incidentID int64) ([]HandoverAction, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]HandoverAction, error)
	CountByType(ctx context.Context, filter ActionFilter) (map[string]int, error)
}

type handoverAuditStore struct {
	db *DB
}

func NewHandoverAuditStore(db *DB) HandoverAuditStore {
	return &handoverAuditStore{db: db}
}

const actionColumns = `id, incident_id, action_type, action_by, action_by_id, action_timestamp, notes, from_engineer, to_engineer, account_id, team_id`

func (s *handoverAuditStore) AppendAction(ctx context.Context, action *HandoverAction) (int64, error) {
	ts := action.ActionTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if s.db.Driver() == DriverPostgres {
		row := s.db.QueryRowContext(ctx, s.db.Rebind(`
			INSERT INTO incident_handover_actions(incident_id, action_type, action_by, action_by_id, action_timestamp, notes, from_engineer, to_engineer, account_id, team_id)
			VALUES(?,?,?,?,?,?,?,?,?,?) RETURNING id`),
			action.IncidentID, action.ActionType, action.ActionBy, nullableID(action.ActionByID), ts.UTC(),
			action.Notes, action.FromEngineer, action.ToEngineer, action.AccountID, action.TeamID)
		if err := row.Scan(&action.ID); err != nil {
			return 0, err
		}
		return action.ID, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_handover_actions(incident_id, action_type, action_by, action_by_id, action_timestamp, notes, from_engineer, to_engineer, account_id, team_id)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		action.IncidentID, action.ActionType, action.ActionBy, nullableID(action.ActionByID), ts.UTC(),
		action.Notes, action.FromEngineer, action.ToEngineer, action.AccountID, action.TeamID)
	if err != nil {
		return 0, err
	}
	action.ID, _ = res.LastInsertId()
	return action.ID, nil
}

// ListByIncident returns the full audit trail for an incident, newest first.
func (s *handoverAuditStore) ListByIncident(ctx context.Context, incidentID int64) ([]HandoverAction, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+actionColumns+` FROM incident_handover_actions
		WHERE incident_id=? ORDER BY action_timestamp DESC, id DESC`), incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *handoverAuditStore) ListActions(ctx context.Context, filter ActionFilter) ([]HandoverAction, error) {
	query := `SELECT ` + actionColumns + ` FROM incident_handover_actions WHERE 1=1`
	var args []any
	query, args = applyActionFilter(query, args, filter)
	query += ` ORDER BY action_timestamp DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *handoverAuditStore) CountByType(ctx context.Context, filter ActionFilter) (map[string]int, error) {
	query := `SELECT action_type, COUNT(*) FROM incident_handover_actions WHERE 1=1`
	var args []any
	query, args = applyActionFilter(query, args, filter)
	query += ` GROUP BY action_type`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var actionType string
		var count int
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, err
		}
		counts[actionType] = count
	}
	return counts, rows.Err()
}

func applyActionFilter(query string, args []any, filter ActionFilter) (string, []any) {
	if !filter.Start.IsZero() {
		query += ` AND action_timestamp>=?`
		args = append(args, filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		query += ` AND action_timestamp<=?`
		args = append(args, filter.End.UTC())
	}
	if filter.ActionType != "" {
		query += ` AND action_type=?`
		args = append(args, filter.ActionType)
	}
	if filter.ActionBy != "" {
		query += ` AND action_by=?`
		args = append(args, filter.ActionBy)
	}
	if filter.AccountID > 0 {
		query += ` AND account_id=?`
		args = append(args, filter.AccountID)
	}
	if filter.TeamID > 0 {
		query += ` AND team_id=?`
		args = append(args, filter.TeamID)
	}
	return query, args
}

func collectActions(rows *sql.Rows) ([]HandoverAction, error) {
	var res []HandoverAction
	for rows.Next() {
		var a HandoverAction
		var byID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.ActionType, &a.ActionBy, &byID, &a.ActionTimestamp,
			&a.Notes, &a.FromEngineer, &a.ToEngineer, &a.AccountID, &a.TeamID); err != nil {
			return nil, err
		}
		if byID.Valid {
			a.ActionByID = &byID.Int64
		}
		a.ActionTimestamp = a.ActionTimestamp.UTC()
		res = append(res, a)
	}
	return res, rows.Err()
}
