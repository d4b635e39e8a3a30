package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) InsertResource(ctx context.Context, r models.Resource) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO resources (id, name, kind, capacity, calendar_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.Name, r.Kind, r.Capacity, nullable(r.CalendarID), r.CreatedAt)
	return err
}

// ImportResources bulk-loads a resource catalog. The whole batch commits or
// none of it does.
func (s *Store) ImportResources(ctx context.Context, resources []models.Resource) (int64, error) {
	rows := make([][]any, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, []any{r.ID, r.Name, r.Kind, r.Capacity, nullable(r.CalendarID), r.CreatedAt})
	}
	var inserted int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"resources"},
			[]string{"id", "name", "kind", "capacity", "calendar_id", "created_at"}, pgx.CopyFromRows(rows))
		inserted = n
		return err
	})
	return inserted, err
}

func (s *Store) ListResources(ctx context.Context) ([]models.Resource, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, kind, capacity, calendar_id, created_at FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		var r models.Resource
		var calID *string
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.Capacity, &calID, &r.CreatedAt); err != nil {
			return nil, err
		}
		if calID != nil {
			r.CalendarID = *calID
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertBooking(ctx context.Context, b models.Booking) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO bookings (id, resource_id, start_at, end_at, requester, kind, headcount, status, series_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, b.ID, b.ResourceID, b.Start, b.End, b.Requester, b.Kind, b.Headcount, b.Status, nullable(b.SeriesID), b.CreatedAt)
	return err
}

func (s *Store) MarkBookingCancelled(ctx context.Context, id string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE bookings SET status = 'cancelled', cancelled_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *Store) ListConfirmedBookings(ctx context.Context) ([]models.Booking, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, resource_id, start_at, end_at, requester, kind, headcount, status, series_id, created_at
		FROM bookings
		WHERE status = 'confirmed'
		ORDER BY start_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		var b models.Booking
		var seriesID *string
		if err := rows.Scan(&b.ID, &b.ResourceID, &b.Start, &b.End, &b.Requester, &b.Kind, &b.Headcount, &b.Status, &seriesID, &b.CreatedAt); err != nil {
			return nil, err
		}
		if seriesID != nil {
			b.SeriesID = *seriesID
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) InsertWorkItem(ctx context.Context, it models.WorkItem) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO work_items (id, priority, policy_id, created_at, deadline, state, escalation_level, breached, held_from, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, it.ID, it.Priority, it.PolicyID, it.CreatedAt, it.Deadline, it.State, it.EscalationLevel, it.Breached, nullable(it.HeldFrom), it.Version, it.UpdatedAt)
	return err
}

func (s *Store) UpdateWorkItem(ctx context.Context, it models.WorkItem) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE work_items
		SET priority = $1, deadline = $2, state = $3, escalation_level = $4, breached = $5, held_from = $6, version = $7, updated_at = $8
		WHERE id = $9
	`, it.Priority, it.Deadline, it.State, it.EscalationLevel, it.Breached, nullable(it.HeldFrom), it.Version, it.UpdatedAt, it.ID)
	return err
}

func (s *Store) GetWorkItem(ctx context.Context, id string) (models.WorkItem, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, priority, policy_id, created_at, deadline, state, escalation_level, breached, held_from, version, updated_at
		FROM work_items WHERE id = $1
	`, id)
	return scanWorkItem(row)
}

// ListActiveWorkItems returns every non-terminal work item for the startup
// registry rebuild. Terminal items stay queryable from the store but the
// sweep never touches them again.
func (s *Store) ListActiveWorkItems(ctx context.Context) ([]models.WorkItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, priority, policy_id, created_at, deadline, state, escalation_level, breached, held_from, version, updated_at
		FROM work_items
		WHERE state NOT IN ('completed', 'cancelled')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WorkItem
	for rows.Next() {
		it, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) AppendEscalation(ctx context.Context, e models.EscalationEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO escalation_log (id, work_item_id, kind, level, target_role, fraction, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.WorkItemID, e.Kind, e.Level, nullable(e.TargetRole), e.Fraction, e.Reason, e.CreatedAt)
	return err
}

func (s *Store) ListEscalations(ctx context.Context, workItemID string, limit int) ([]models.EscalationEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, work_item_id, kind, level, target_role, fraction, reason, created_at
		FROM escalation_log`
	args := []any{}
	if workItemID != "" {
		query += ` WHERE work_item_id = $1`
		args = append(args, workItemID)
	}
	query += ` ORDER BY created_at DESC LIMIT $` + fmt.Sprint(len(args)+1)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscalationEntry
	for rows.Next() {
		var e models.EscalationEntry
		var role *string
		if err := rows.Scan(&e.ID, &e.WorkItemID, &e.Kind, &e.Level, &role, &e.Fraction, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if role != nil {
			e.TargetRole = *role
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (models.WorkItem, error) {
	var it models.WorkItem
	var heldFrom *string
	if err := row.Scan(&it.ID, &it.Priority, &it.PolicyID, &it.CreatedAt, &it.Deadline, &it.State, &it.EscalationLevel, &it.Breached, &heldFrom, &it.Version, &it.UpdatedAt); err != nil {
		return models.WorkItem{}, err
	}
	if heldFrom != nil {
		it.HeldFrom = *heldFrom
	}
	return it, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
