package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TeamMember is the directory record used to resolve notification
// recipients; the roster itself is maintained outside this core.
type TeamMember struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AccountID int64     `json:"account_id"`
	TeamID    int64     `json:"team_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type TeamStore interface {
	AddMember(ctx context.Context, m *TeamMember) (int64, error)
	GetMemberByName(ctx context.Context, name string) (*TeamMember, error)
	ListMembers(ctx context.Context, tenant Tenant) ([]TeamMember, error)
}

type teamStore struct {
	db *DB
}

func NewTeamStore(db *DB) TeamStore {
	return &teamStore{db: db}
}

func (s *teamStore) AddMember(ctx context.Context, m *TeamMember) (int64, error) {
	now := time.Now().UTC()
	m.CreatedAt = now
	if s.db.Driver() == DriverPostgres {
		row := s.db.QueryRowContext(ctx, s.db.Rebind(`
			INSERT INTO team_members(name, email, account_id, team_id, active, created_at)
			VALUES(?,?,?,?,?,?) RETURNING id`),
			strings.TrimSpace(m.Name), strings.TrimSpace(m.Email), m.AccountID, m.TeamID, m.Active, now)
		if err := row.Scan(&m.ID); err != nil {
			return 0, err
		}
		return m.ID, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members(name, email, account_id, team_id, active, created_at)
		VALUES(?,?,?,?,?,?)`,
		strings.TrimSpace(m.Name), strings.TrimSpace(m.Email), m.AccountID, m.TeamID, m.Active, now)
	if err != nil {
		return 0, err
	}
	m.ID, _ = res.LastInsertId()
	return m.ID, nil
}

func (s *teamStore) GetMemberByName(ctx context.Context, name string) (*TeamMember, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, name, email, account_id, team_id, active, created_at
		FROM team_members WHERE name=?`), strings.TrimSpace(name))
	var m TeamMember
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.AccountID, &m.TeamID, &m.Active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *teamStore) ListMembers(ctx context.Context, tenant Tenant) ([]TeamMember, error) {
	query := `SELECT id, name, email, account_id, team_id, active, created_at FROM team_members WHERE active=?`
	args := []any{true}
	if tenant.AccountID > 0 {
		query += ` AND account_id=?`
		args = append(args, tenant.AccountID)
	}
	if tenant.TeamID > 0 {
		query += ` AND team_id=?`
		args = append(args, tenant.TeamID)
	}
	query += ` ORDER BY name`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TeamMember
	for rows.Next() {
		var m TeamMember
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.AccountID, &m.TeamID, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
