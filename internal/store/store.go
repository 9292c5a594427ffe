package store

import (
	"context"
	"sort"
	"time"

	"github.com/staffgate/staffgate-api/internal/model"
)

// Store defines the interface for storing registration requests.
// It exclusively owns every record: status changes go through Transition only.
type Store interface {
	// Create inserts a pending request. It fails with model.ErrConflict while an
	// active (pending or approved) request exists for the same telegram id; a
	// rejected request is replaced by the new submission.
	Create(ctx context.Context, req *model.RegistrationRequest) error

	// Get retrieves a registration request by telegram id
	Get(ctx context.Context, telegramID string) (*model.RegistrationRequest, error)

	// ListPending returns pending requests, oldest first
	ListPending(ctx context.Context) ([]*model.RegistrationRequest, error)

	// List returns all requests with an optional status filter, pending first
	List(ctx context.Context, status *model.RequestStatus) ([]*model.RegistrationRequest, error)

	// Transition atomically decides a pending request. At most one concurrent
	// caller wins; the others observe model.ErrInvalidTransition.
	Transition(ctx context.Context, telegramID string, target model.RequestStatus, processedBy string) (*model.RegistrationRequest, error)

	// Close releases the underlying resources
	Close() error
}

// sortRequests orders pending requests before decided ones, each group by
// created_at ascending with the telegram id as a tie breaker.
func sortRequests(requests []*model.RegistrationRequest) {
	sort.Slice(requests, func(i, j int) bool {
		pi, pj := requests[i].Status == model.StatusPending, requests[j].Status == model.StatusPending
		if pi != pj {
			return pi
		}
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].TelegramID < requests[j].TelegramID
	})
}

func filterByStatus(requests []*model.RegistrationRequest, status *model.RequestStatus) []*model.RegistrationRequest {
	if status == nil {
		return requests
	}
	filtered := make([]*model.RegistrationRequest, 0, len(requests))
	for _, req := range requests {
		if req.Status == *status {
			filtered = append(filtered, req)
		}
	}
	return filtered
}

// stampPending resets req to a fresh pending record created at now.
func stampPending(req *model.RegistrationRequest, now time.Time) {
	if req.ID == "" {
		req.ID = model.GenerateID()
	}
	if req.Role == "" {
		req.Role = model.RoleEmployee
	}
	now = now.UTC()
	req.Status = model.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	req.ProcessedBy = ""
	req.ProcessedAt = nil
}
