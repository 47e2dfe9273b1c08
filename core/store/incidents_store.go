package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// HandoverStatus is the closed set of handover states. Values outside the
// four known states are rejected at the boundary by ParseHandoverStatus.
type HandoverStatus string

const (
	HandoverNone     HandoverStatus = "N/A"
	HandoverPending  HandoverStatus = "Pending"
	HandoverAccepted HandoverStatus = "Accepted"
	HandoverRejected HandoverStatus = "Rejected"
)

func ParseHandoverStatus(raw string) (HandoverStatus, bool) {
	switch HandoverStatus(strings.TrimSpace(raw)) {
	case HandoverNone, "":
		return HandoverNone, true
	case HandoverPending:
		return HandoverPending, true
	case HandoverAccepted:
		return HandoverAccepted, true
	case HandoverRejected:
		return HandoverRejected, true
	}
	return HandoverNone, false
}

type Tenant struct {
	AccountID int64 `json:"account_id"`
	TeamID    int64 `json:"team_id"`
}

type Incident struct {
	ID                    int64          `json:"id"`
	Title                 string         `json:"title"`
	Description           string         `json:"description"`
	Priority              string         `json:"priority"`
	Status                string         `json:"status"`
	AssignedTo            string         `json:"assigned_to"`
	ShiftID               *int64         `json:"shift_id,omitempty"`
	AccountID             int64          `json:"account_id"`
	TeamID                int64          `json:"team_id"`
	HandoverStatus        HandoverStatus `json:"handover_status"`
	HandoverAssignedTo    *string        `json:"handover_assigned_to,omitempty"`
	HandoverAssignedToID  *int64         `json:"handover_assigned_to_id,omitempty"`
	HandoverInitiatedAt   *time.Time     `json:"handover_initiated_at,omitempty"`
	HandoverActionedAt    *time.Time     `json:"handover_actioned_at,omitempty"`
	HandoverActionedBy    *string        `json:"handover_actioned_by,omitempty"`
	HandoverRejectionNote *string        `json:"handover_rejection_note,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

type IncidentFilter struct {
	HandoverStatus   HandoverStatus
	HandoverAssignee string
	InitiatedBefore  *time.Time
	AccountID        int64
	TeamID           int64
	ShiftID          *int64
	Limit            int
	Offset           int
}

// HandoverUpdate is the full handover field set applied by a transition.
// Nil pointers write NULL; TransferOwner additionally moves assigned_to.
type HandoverUpdate struct {
	Status        HandoverStatus
	AssignedTo    *string
	AssignedToID  *int64
	InitiatedAt   *time.Time
	ActionedAt    *time.Time
	ActionedBy    *string
	RejectionNote *string
	TransferOwner *string
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	CountPendingFor(ctx context.Context, engineer string, tenant Tenant) (int, error)
	// TransitionHandover applies the handover mutation and appends the audit
	// action in a single transaction. The update is conditional on the
	// incident still being in the expected state; ErrConflict is returned
	// when a concurrent transition won.
	TransitionHandover(ctx context.Context, incidentID int64, from HandoverStatus, upd HandoverUpdate, action *HandoverAction) error
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, title, description, priority, status, assigned_to, shift_id, account_id, team_id,
	handover_status, handover_assigned_to, handover_assigned_to_id, handover_initiated_at,
	handover_actioned_at, handover_actioned_by, handover_rejection_note, created_at, updated_at`

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(incident.Priority) == "" {
		incident.Priority = "Medium"
	}
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = "Open"
	}
	if incident.HandoverStatus == "" {
		incident.HandoverStatus = HandoverNone
	}
	incident.CreatedAt = now
	incident.UpdatedAt = now
	if s.db.Driver() == DriverPostgres {
		row := s.db.QueryRowContext(ctx, s.db.Rebind(`
			INSERT INTO incidents(title, description, priority, status, assigned_to, shift_id, account_id, team_id,
				handover_status, handover_assigned_to, handover_assigned_to_id, handover_initiated_at,
				handover_actioned_at, handover_actioned_by, handover_rejection_note, created_at, updated_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
			incident.Title, incident.Description, incident.Priority, incident.Status, incident.AssignedTo,
			nullableID(incident.ShiftID), incident.AccountID, incident.TeamID,
			string(incident.HandoverStatus), nullableStr(incident.HandoverAssignedTo), nullableID(incident.HandoverAssignedToID),
			nullableTime(incident.HandoverInitiatedAt), nullableTime(incident.HandoverActionedAt),
			nullableStr(incident.HandoverActionedBy), nullableStr(incident.HandoverRejectionNote), now, now)
		if err := row.Scan(&incident.ID); err != nil {
			return 0, err
		}
		return incident.ID, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents(title, description, priority, status, assigned_to, shift_id, account_id, team_id,
			handover_status, handover_assigned_to, handover_assigned_to_id, handover_initiated_at,
			handover_actioned_at, handover_actioned_by, handover_rejection_note, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		incident.Title, incident.Description, incident.Priority, incident.Status, incident.AssignedTo,
		nullableID(incident.ShiftID), incident.AccountID, incident.TeamID,
		string(incident.HandoverStatus), nullableStr(incident.HandoverAssignedTo), nullableID(incident.HandoverAssignedToID),
		nullableTime(incident.HandoverInitiatedAt), nullableTime(incident.HandoverActionedAt),
		nullableStr(incident.HandoverActionedBy), nullableStr(incident.HandoverRejectionNote), now, now)
	if err != nil {
		return 0, err
	}
	incident.ID, _ = res.LastInsertId()
	return incident.ID, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+incidentColumns+` FROM incidents WHERE id=?`), id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inc, err
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	if filter.HandoverStatus != "" {
		query += ` AND handover_status=?`
		args = append(args, string(filter.HandoverStatus))
	}
	if strings.TrimSpace(filter.HandoverAssignee) != "" {
		query += ` AND handover_assigned_to=?`
		args = append(args, strings.TrimSpace(filter.HandoverAssignee))
	}
	if filter.InitiatedBefore != nil {
		query += ` AND handover_initiated_at IS NOT NULL AND handover_initiated_at<=?`
		args = append(args, filter.InitiatedBefore.UTC())
	}
	if filter.AccountID > 0 {
		query += ` AND account_id=?`
		args = append(args, filter.AccountID)
	}
	if filter.TeamID > 0 {
		query += ` AND team_id=?`
		args = append(args, filter.TeamID)
	}
	if filter.ShiftID != nil {
		query += ` AND shift_id=?`
		args = append(args, *filter.ShiftID)
	}
	query += ` ORDER BY handover_initiated_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) CountPendingFor(ctx context.Context, engineer string, tenant Tenant) (int, error) {
	query := `SELECT COUNT(*) FROM incidents WHERE handover_status=?`
	args := []any{string(HandoverPending)}
	if strings.TrimSpace(engineer) != "" {
		query += ` AND handover_assigned_to=?`
		args = append(args, strings.TrimSpace(engineer))
	}
	if tenant.AccountID > 0 {
		query += ` AND account_id=?`
		args = append(args, tenant.AccountID)
	}
	if tenant.TeamID > 0 {
		query += ` AND team_id=?`
		args = append(args, tenant.TeamID)
	}
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&count)
	return count, err
}

func (s *incidentsStore) TransitionHandover(ctx context.Context, incidentID int64, from HandoverStatus, upd HandoverUpdate, action *HandoverAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query := `
		UPDATE incidents SET handover_status=?, handover_assigned_to=?, handover_assigned_to_id=?,
			handover_initiated_at=?, handover_actioned_at=?, handover_actioned_by=?, handover_rejection_note=?, updated_at=?`
	args := []any{
		string(upd.Status), nullableStr(upd.AssignedTo), nullableID(upd.AssignedToID),
		nullableTime(upd.InitiatedAt), nullableTime(upd.ActionedAt), nullableStr(upd.ActionedBy),
		nullableStr(upd.RejectionNote), now,
	}
	if upd.TransferOwner != nil {
		query += `, assigned_to=?`
		args = append(args, *upd.TransferOwner)
	}
	query += ` WHERE id=? AND handover_status=?`
	args = append(args, incidentID, string(from))
	res, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	if action != nil {
		ts := action.ActionTimestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO incident_handover_actions(incident_id, action_type, action_by, action_by_id, action_timestamp, notes, from_engineer, to_engineer, account_id, team_id)
			VALUES(?,?,?,?,?,?,?,?,?,?)`),
			incidentID, action.ActionType, action.ActionBy, nullableID(action.ActionByID), ts.UTC(),
			action.Notes, action.FromEngineer, action.ToEngineer, action.AccountID, action.TeamID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var status string
	var shiftID, assigneeID sql.NullInt64
	var assignee, actionedBy, rejectionNote sql.NullString
	var initiatedAt, actionedAt sql.NullTime
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Priority, &inc.Status, &inc.AssignedTo,
		&shiftID, &inc.AccountID, &inc.TeamID, &status, &assignee, &assigneeID, &initiatedAt,
		&actionedAt, &actionedBy, &rejectionNote, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, ok := ParseHandoverStatus(status)
	if !ok {
		parsed = HandoverNone
	}
	inc.HandoverStatus = parsed
	if shiftID.Valid {
		inc.ShiftID = &shiftID.Int64
	}
	if assignee.Valid {
		inc.HandoverAssignedTo = &assignee.String
	}
	if assigneeID.Valid {
		inc.HandoverAssignedToID = &assigneeID.Int64
	}
	if initiatedAt.Valid {
		t := initiatedAt.Time.UTC()
		inc.HandoverInitiatedAt = &t
	}
	if actionedAt.Valid {
		t := actionedAt.Time.UTC()
		inc.HandoverActionedAt = &t
	}
	if actionedBy.Valid {
		inc.HandoverActionedBy = &actionedBy.String
	}
	if rejectionNote.Valid {
		inc.HandoverRejectionNote = &rejectionNote.String
	}
	return &inc, nil
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
