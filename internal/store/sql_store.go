package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/staffgate/staffgate-api/internal/model"
)

// requestColumns is the list of columns to select for request queries.
const requestColumns = `id, telegram_id, name, phone, role, status, created_at, updated_at, processed_by, processed_at`

// dialect captures the few differences between the SQL backends.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store on top of database/sql. Timestamps are kept as
// unix nanoseconds so both backends order and compare them identically.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, now: time.Now}
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// rebind rewrites '?' placeholders into the backend's native form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// scanRequest scans a row into a RegistrationRequest.
func scanRequest(scanner interface{ Scan(...any) error }) (*model.RegistrationRequest, error) {
	var (
		req                  model.RegistrationRequest
		status               string
		createdAt, updatedAt int64
		processedAt          sql.NullInt64
	)
	err := scanner.Scan(
		&req.ID, &req.TelegramID, &req.Name, &req.Phone, &req.Role, &status,
		&createdAt, &updatedAt, &req.ProcessedBy, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = model.RequestStatus(status)
	req.CreatedAt = fromUnixNano(createdAt)
	req.UpdatedAt = fromUnixNano(updatedAt)
	if processedAt.Valid {
		t := fromUnixNano(processedAt.Int64)
		req.ProcessedAt = &t
	}
	return &req, nil
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Create inserts a pending request or replaces a rejected one. Both paths are
// single statements guarded by the status column, so concurrent submissions
// for one telegram id cannot both succeed.
func (s *SQLStore) Create(ctx context.Context, req *model.RegistrationRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	stampPending(req, s.now())
	ts := req.CreatedAt.UnixNano()

	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE registration_requests SET
			id = ?, name = ?, phone = ?, role = ?, status = ?, created_at = ?, updated_at = ?,
			processed_by = '', processed_at = NULL
		WHERE telegram_id = ? AND status = ?`),
		req.ID, req.Name, req.Phone, req.Role, string(model.StatusPending), ts, ts,
		req.TelegramID, string(model.StatusRejected),
	)
	if err != nil {
		return fmt.Errorf("failed to resubmit request: %w", err)
	}
	if replaced, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if replaced > 0 {
		return nil
	}

	result, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO registration_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', NULL)
		ON CONFLICT (telegram_id) DO NOTHING`),
		req.ID, req.TelegramID, req.Name, req.Phone, req.Role, string(req.Status), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("telegram id %s: %w", req.TelegramID, model.ErrConflict)
	}
	return nil
}

// Get retrieves a registration request by telegram id
func (s *SQLStore) Get(ctx context.Context, telegramID string) (*model.RegistrationRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+requestColumns+` FROM registration_requests WHERE telegram_id = ?`),
		telegramID,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("telegram id %s: %w", telegramID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// ListPending returns pending requests, oldest first
func (s *SQLStore) ListPending(ctx context.Context) ([]*model.RegistrationRequest, error) {
	status := model.StatusPending
	return s.List(ctx, &status)
}

// List returns all registration requests with optional status filter, pending first
func (s *SQLStore) List(ctx context.Context, status *model.RequestStatus) ([]*model.RegistrationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM registration_requests`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY CASE WHEN status = 'pending' THEN 0 ELSE 1 END, created_at ASC, telegram_id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*model.RegistrationRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// Transition performs a compare-and-swap on the status column: the UPDATE only
// matches while the request is still pending.
func (s *SQLStore) Transition(ctx context.Context, telegramID string, target model.RequestStatus, processedBy string) (*model.RegistrationRequest, error) {
	if !model.StatusPending.CanTransitionTo(target) {
		return nil, model.NewValidationError(fmt.Sprintf("cannot decide into status %q", target))
	}

	ts := s.now().UTC().UnixNano()
	row := s.db.QueryRowContext(ctx, s.rebind(
		`UPDATE registration_requests SET status = ?, processed_by = ?, processed_at = ?, updated_at = ?
		WHERE telegram_id = ? AND status = ?
		RETURNING `+requestColumns),
		string(target), processedBy, ts, ts, telegramID, string(model.StatusPending),
	)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	// Nothing matched: either the request does not exist or it was already decided.
	current, err := s.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return nil, &model.TransitionError{TelegramID: telegramID, Current: current.Status}
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
