package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/call-signaling/internal/domain"
)

// VideoCallFilter narrows call record listings.
type VideoCallFilter struct {
	SupportRequestID *string
	CustomerID       *string
	SupporterID      *string
	Statuses         []domain.CallStatus
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
	Limit            int
	Offset           int
}

// VideoCallRepository persists call records. State changes are guarded by the
// current status so a late or repeated callback cannot move a record back.
type VideoCallRepository interface {
	Create(ctx context.Context, call *domain.VideoCall) error
	GetByRoomID(ctx context.Context, roomID string) (*domain.VideoCall, error)
	List(ctx context.Context, filter VideoCallFilter) ([]domain.VideoCall, error)
	MarkStarted(ctx context.Context, roomID string, at time.Time) error
	MarkEnded(ctx context.Context, roomID string, at time.Time, durationSeconds int) error
	MarkCancelled(ctx context.Context, roomID string, at time.Time) error
}

type videoCallRepository struct {
	pool *pgxpool.Pool
}

// NewVideoCallRepository instantiates repository.
func NewVideoCallRepository(pool *pgxpool.Pool) VideoCallRepository {
	return &videoCallRepository{pool: pool}
}

const videoCallColumns = `id, room_id, support_request_id, customer_id, supporter_id, status,
               started_at, ended_at, duration_seconds, created_at, updated_at`

func (r *videoCallRepository) Create(ctx context.Context, call *domain.VideoCall) error {
	const query = `
        INSERT INTO video_calls (room_id, support_request_id, customer_id, supporter_id, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	if call.Status == "" {
		call.Status = domain.CallStatusInitiated
	}
	return r.pool.QueryRow(ctx, query,
		call.RoomID,
		call.SupportRequestID,
		call.CustomerID,
		call.SupporterID,
		call.Status,
	).Scan(&call.ID, &call.CreatedAt, &call.UpdatedAt)
}

func (r *videoCallRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.VideoCall, error) {
	query := `SELECT ` + videoCallColumns + ` FROM video_calls WHERE room_id=$1`
	call, err := scanVideoCall(r.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		return nil, err
	}
	return call, nil
}

func (r *videoCallRepository) List(ctx context.Context, filter VideoCallFilter) ([]domain.VideoCall, error) {
	base := `SELECT ` + videoCallColumns + ` FROM video_calls`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.SupportRequestID != nil {
		args = append(args, *filter.SupportRequestID)
		clauses = append(clauses, fmt.Sprintf("support_request_id=$%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.SupporterID != nil {
		args = append(args, *filter.SupporterID)
		clauses = append(clauses, fmt.Sprintf("supporter_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		base, strings.Join(clauses, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.VideoCall
	for rows.Next() {
		call, err := scanVideoCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

func (r *videoCallRepository) MarkStarted(ctx context.Context, roomID string, at time.Time) error {
	const query = `
        UPDATE video_calls SET status=$1, started_at=$2, updated_at=NOW()
        WHERE room_id=$3 AND status=$4`
	return r.exec(ctx, query, domain.CallStatusActive, at, roomID, domain.CallStatusInitiated)
}

func (r *videoCallRepository) MarkEnded(ctx context.Context, roomID string, at time.Time, durationSeconds int) error {
	const query = `
        UPDATE video_calls SET status=$1, ended_at=$2, duration_seconds=$3, updated_at=NOW()
        WHERE room_id=$4 AND status=$5`
	return r.exec(ctx, query, domain.CallStatusEnded, at, durationSeconds, roomID, domain.CallStatusActive)
}

func (r *videoCallRepository) MarkCancelled(ctx context.Context, roomID string, at time.Time) error {
	const query = `
        UPDATE video_calls SET status=$1, ended_at=$2, updated_at=NOW()
        WHERE room_id=$3 AND status=$4`
	return r.exec(ctx, query, domain.CallStatusCancelled, at, roomID, domain.CallStatusInitiated)
}

func (r *videoCallRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanVideoCall(row pgx.Row) (*domain.VideoCall, error) {
	var call domain.VideoCall
	if err := row.Scan(
		&call.ID,
		&call.RoomID,
		&call.SupportRequestID,
		&call.CustomerID,
		&call.SupporterID,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.CreatedAt,
		&call.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &call, nil
}
