// Package cache keeps a denormalized case index for fast list views. It is
// never authoritative: the event log's projection wins on divergence and the
// whole index can be rebuilt by replaying every case through the reducer.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"claimline/internal/eventlog"
	"claimline/internal/reduce"
)

var ErrNotFound = errors.New("not found")

type Cache struct {
	DB *sql.DB
}

// Entry is the denormalized projection stored per case.
type Entry struct {
	CaseID             string  `json:"case_id"`
	Title              string  `json:"title"`
	Category           string  `json:"category"`
	ExternalRef        string  `json:"external_ref,omitempty"`
	Version            int64   `json:"version"`
	BasisStatus        string  `json:"basis_status"`
	CompensationStatus string  `json:"compensation_status"`
	DeadlineStatus     string  `json:"deadline_status"`
	NetAmount          float64 `json:"net_amount"`
	DeadlineDays       int     `json:"deadline_days"`
	UpdatedAt          string  `json:"updated_at,omitempty" format:"date-time"`
}

// FromState projects the display fields out of a computed case state.
func FromState(st reduce.CaseState) Entry {
	return Entry{
		CaseID:             st.CaseID,
		Title:              st.Title,
		Category:           string(st.Category),
		ExternalRef:        st.ExternalRef,
		Version:            st.Version,
		BasisStatus:        string(st.Basis.Status),
		CompensationStatus: string(st.Compensation.Status),
		DeadlineStatus:     string(st.Deadline.Status),
		NetAmount:          st.Compensation.NetAmount,
		DeadlineDays:       st.Deadline.Days,
		UpdatedAt:          st.UpdatedAt,
	}
}

// Update upserts one case row. Called after every successful append.
func (c Cache) Update(ctx context.Context, e Entry) error {
	if e.CaseID == "" {
		return errors.New("case id required")
	}
	_, err := c.DB.ExecContext(ctx, `INSERT INTO case_index(case_id,title,category,external_ref,version,basis_status,compensation_status,deadline_status,net_amount,deadline_days,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(case_id) DO UPDATE SET
			title=excluded.title, category=excluded.category, external_ref=excluded.external_ref,
			version=excluded.version, basis_status=excluded.basis_status,
			compensation_status=excluded.compensation_status, deadline_status=excluded.deadline_status,
			net_amount=excluded.net_amount, deadline_days=excluded.deadline_days, updated_at=excluded.updated_at`,
		e.CaseID, e.Title, e.Category, nullable(e.ExternalRef), e.Version,
		e.BasisStatus, e.CompensationStatus, e.DeadlineStatus, e.NetAmount, e.DeadlineDays, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update case index: %w", err)
	}
	return nil
}

// Get returns the cached row for a case.
func (c Cache) Get(ctx context.Context, caseID string) (Entry, error) {
	row := c.DB.QueryRowContext(ctx, `SELECT case_id,title,category,external_ref,version,basis_status,compensation_status,deadline_status,net_amount,deadline_days,updated_at
		FROM case_index WHERE case_id=?`, caseID)
	return scanEntry(row)
}

// GetByExternalRef looks a case up by its external correlation id.
func (c Cache) GetByExternalRef(ctx context.Context, ref string) (Entry, error) {
	row := c.DB.QueryRowContext(ctx, `SELECT case_id,title,category,external_ref,version,basis_status,compensation_status,deadline_status,net_amount,deadline_days,updated_at
		FROM case_index WHERE external_ref=?`, ref)
	return scanEntry(row)
}

// List returns all cached rows ordered by last activity, newest first.
func (c Cache) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT case_id,title,category,external_ref,version,basis_status,compensation_status,deadline_status,net_amount,deadline_days,updated_at
		FROM case_index ORDER BY updated_at DESC, case_id`)
	if err != nil {
		return nil, fmt.Errorf("list case index: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rebuild drops every row and re-derives the index by replaying each case's
// full history through the reducer.
func (c Cache) Rebuild(ctx context.Context, store eventlog.Store) error {
	ids, err := store.ListCases(ctx)
	if err != nil {
		return err
	}
	if _, err := c.DB.ExecContext(ctx, `DELETE FROM case_index`); err != nil {
		return fmt.Errorf("clear case index: %w", err)
	}
	for _, id := range ids {
		evs, _, err := store.GetEvents(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Update(ctx, FromState(reduce.ComputeState(evs))); err != nil {
			return err
		}
	}
	return nil
}

func scanEntry(row *sql.Row) (Entry, error) {
	var (
		e   Entry
		ref sql.NullString
	)
	err := row.Scan(&e.CaseID, &e.Title, &e.Category, &ref, &e.Version,
		&e.BasisStatus, &e.CompensationStatus, &e.DeadlineStatus, &e.NetAmount, &e.DeadlineDays, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("scan case index: %w", err)
	}
	e.ExternalRef = ref.String
	return e, nil
}

func scanEntryRows(rows *sql.Rows) (Entry, error) {
	var (
		e   Entry
		ref sql.NullString
	)
	if err := rows.Scan(&e.CaseID, &e.Title, &e.Category, &ref, &e.Version,
		&e.BasisStatus, &e.CompensationStatus, &e.DeadlineStatus, &e.NetAmount, &e.DeadlineDays, &e.UpdatedAt); err != nil {
		return e, fmt.Errorf("scan case index: %w", err)
	}
	e.ExternalRef = ref.String
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
