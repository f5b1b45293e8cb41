package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/domain"
	"github.com/spec-kit/call-signaling/internal/events"
	"github.com/spec-kit/call-signaling/internal/repository"
	"github.com/spec-kit/call-signaling/internal/signaling"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// ErrRecordsUnavailable is returned by record queries when no database is
// configured.
var ErrRecordsUnavailable = apperrors.NewDomainError("RECORDS_UNAVAILABLE", "call records are not configured", http.StatusServiceUnavailable, nil)

// RoomManager is the part of the signaling coordinator the ticket system
// drives.
type RoomManager interface {
	OpenRoom(roomID, participantA, participantB string) error
	ForceEndRoom(roomID string) (domain.RoomSnapshot, error)
	Snapshot(roomID string) (domain.RoomSnapshot, error)
	Rooms() []domain.RoomSnapshot
}

// CallService handles the ticket system's requests about calls.
type CallService struct {
	rooms      RoomManager
	calls      repository.VideoCallRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// CallDependencies bundles collaborators for the call service.
type CallDependencies struct {
	Rooms      RoomManager
	CallRepo   repository.VideoCallRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// OpenCallInput describes a call the ticket system wants to set up.
type OpenCallInput struct {
	RoomID           string
	SupportRequestID string
	CustomerID       string
	SupporterID      string
}

// CallView combines the durable record with the live room, either of which
// may be missing.
type CallView struct {
	Record *domain.VideoCall
	Room   *domain.RoomSnapshot
}

// NewCallService constructs the service.
func NewCallService(deps CallDependencies) *CallService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallService{
		rooms:      deps.Rooms,
		calls:      deps.CallRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger.Named("calls"),
		now:        time.Now,
	}
}

// OpenCall pre-authorizes the customer and supporter for a room, generating
// the room id when none is given. Opening the same call twice returns the
// existing record.
func (s *CallService) OpenCall(ctx context.Context, input OpenCallInput) (*domain.VideoCall, error) {
	input.RoomID = strings.TrimSpace(input.RoomID)
	input.CustomerID = strings.TrimSpace(input.CustomerID)
	input.SupporterID = strings.TrimSpace(input.SupporterID)
	if input.RoomID == "" {
		input.RoomID = uuid.NewString()
	}
	if input.CustomerID == "" || input.SupporterID == "" || input.CustomerID == input.SupporterID {
		return nil, signaling.ErrInvalidRoom
	}

	now := s.now()
	call := &domain.VideoCall{
		RoomID:           input.RoomID,
		SupportRequestID: input.SupportRequestID,
		CustomerID:       input.CustomerID,
		SupporterID:      input.SupporterID,
		Status:           domain.CallStatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created := s.calls == nil
	if s.calls != nil {
		existing, err := s.calls.GetByRoomID(ctx, input.RoomID)
		switch {
		case err == nil:
			if existing.CustomerID != input.CustomerID || existing.SupporterID != input.SupporterID {
				return nil, signaling.ErrRoomConflict
			}
			if existing.Status != domain.CallStatusInitiated {
				return nil, apperrors.NewConflict("call is no longer open", map[string]any{"status": existing.Status})
			}
			call = existing
		case errors.Is(err, pgx.ErrNoRows):
			if err := s.calls.Create(ctx, call); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return nil, signaling.ErrRoomConflict
				}
				return nil, err
			}
			created = true
		default:
			return nil, err
		}
	}

	if err := s.rooms.OpenRoom(call.RoomID, call.CustomerID, call.SupporterID); err != nil {
		if created && s.calls != nil {
			if cerr := s.calls.MarkCancelled(ctx, call.RoomID, now); cerr != nil {
				s.logger.Warn("cancel orphaned call record", zap.String("room_id", call.RoomID), zap.Error(cerr))
			}
		}
		return nil, err
	}

	if created {
		publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventCallOpened, call.RoomID, now, events.CallOpenedPayload{
			SupportRequestID: call.SupportRequestID,
			CustomerID:       call.CustomerID,
			SupporterID:      call.SupporterID,
		}))
	}
	return call, nil
}

// EndCall force-ends a room. A call that never became active is recorded as
// cancelled here; an active one is recorded by the lifecycle callback.
func (s *CallService) EndCall(ctx context.Context, roomID string) error {
	last, err := s.rooms.ForceEndRoom(roomID)
	switch {
	case err == nil && last.StartedAt != nil:
		return nil
	case err == nil:
		_, cerr := s.cancel(ctx, roomID)
		return cerr
	case errors.Is(err, signaling.ErrRoomNotFound) && s.calls != nil:
		// The room is gone, possibly lost on restart. A record that never
		// started is still closed out.
		cancelled, cerr := s.cancel(ctx, roomID)
		if cerr != nil {
			return cerr
		}
		if cancelled {
			return nil
		}
		return err
	default:
		return err
	}
}

func (s *CallService) cancel(ctx context.Context, roomID string) (bool, error) {
	at := s.now()
	if s.calls != nil {
		if err := s.calls.MarkCancelled(ctx, roomID, at); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
	}
	publish(ctx, s.dispatcher, s.logger, events.NewEvent(events.EventCallCancelled, roomID, at,
		events.CallCancelledPayload{Status: domain.CallStatusCancelled}))
	return true, nil
}

// GetCall returns what is known about roomID.
func (s *CallService) GetCall(ctx context.Context, roomID string) (CallView, error) {
	var view CallView
	if snap, err := s.rooms.Snapshot(roomID); err == nil {
		view.Room = &snap
	} else if !errors.Is(err, signaling.ErrRoomNotFound) {
		return view, err
	}

	if s.calls != nil {
		record, err := s.calls.GetByRoomID(ctx, roomID)
		switch {
		case err == nil:
			view.Record = record
		case !errors.Is(err, pgx.ErrNoRows):
			return view, err
		}
	}

	if view.Room == nil && view.Record == nil {
		return view, signaling.ErrRoomNotFound
	}
	return view, nil
}

// ListCalls returns stored call records.
func (s *CallService) ListCalls(ctx context.Context, filter repository.VideoCallFilter) ([]domain.VideoCall, error) {
	if s.calls == nil {
		return nil, ErrRecordsUnavailable
	}
	return s.calls.List(ctx, filter)
}

// LiveRooms lists rooms currently held in memory.
func (s *CallService) LiveRooms() []domain.RoomSnapshot {
	return s.rooms.Rooms()
}

const sweepBatch = 100

// SweepStaleCalls cancels initiated records older than maxAge whose room is
// no longer held in memory, such as rooms lost on restart. It returns how
// many records were closed out.
func (s *CallService) SweepStaleCalls(ctx context.Context, maxAge time.Duration) (int, error) {
	if s.calls == nil {
		return 0, ErrRecordsUnavailable
	}
	cutoff := s.now().Add(-maxAge)
	stale, err := s.calls.List(ctx, repository.VideoCallFilter{
		Statuses:  []domain.CallStatus{domain.CallStatusInitiated},
		CreatedTo: &cutoff,
		Limit:     sweepBatch,
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, call := range stale {
		if _, err := s.rooms.Snapshot(call.RoomID); err == nil {
			continue
		}
		cancelled, err := s.cancel(ctx, call.RoomID)
		if err != nil {
			return swept, err
		}
		if cancelled {
			swept++
			s.logger.Info("stale call cancelled", zap.String("room_id", call.RoomID))
		}
	}
	return swept, nil
}
