package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/staffgate/staffgate-api/internal/model"
)

// FileStore implements Store using one JSON file per telegram id
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
}

// NewFileStore creates a new file-based store
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
		now:     time.Now,
	}, nil
}

// filePath returns the file path for a given telegram id. Ids are validated
// before they reach the filesystem, so they never contain path separators.
func (s *FileStore) filePath(telegramID string) string {
	return filepath.Join(s.baseDir, telegramID+".json")
}

// Create creates a new registration request
func (s *FileStore) Create(ctx context.Context, req *model.RegistrationRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readRequest(req.TelegramID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if existing != nil && existing.Status.Active() {
		return fmt.Errorf("telegram id %s: %w", req.TelegramID, model.ErrConflict)
	}

	stampPending(req, s.now())
	return s.writeRequest(req)
}

// Get retrieves a registration request by telegram id
func (s *FileStore) Get(ctx context.Context, telegramID string) (*model.RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readRequest(telegramID)
}

// ListPending returns pending requests, oldest first
func (s *FileStore) ListPending(ctx context.Context) ([]*model.RegistrationRequest, error) {
	status := model.StatusPending
	return s.List(ctx, &status)
}

// List returns all registration requests with optional status filter
func (s *FileStore) List(ctx context.Context, status *model.RequestStatus) ([]*model.RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests, err := s.listAllUnsafe()
	if err != nil {
		return nil, err
	}

	return filterByStatus(requests, status), nil
}

// Transition decides a pending request under the write lock
func (s *FileStore) Transition(ctx context.Context, telegramID string, target model.RequestStatus, processedBy string) (*model.RegistrationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.readRequest(telegramID)
	if err != nil {
		return nil, err
	}

	if err := req.Decide(target, processedBy, s.now()); err != nil {
		return nil, err
	}

	if err := s.writeRequest(req); err != nil {
		return nil, err
	}

	return req, nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}

// Internal methods (not thread-safe, must be called with lock held)

func (s *FileStore) readRequest(telegramID string) (*model.RegistrationRequest, error) {
	if !model.IsValidIdentity(telegramID) {
		return nil, fmt.Errorf("telegram id %q: %w", telegramID, model.ErrNotFound)
	}

	data, err := os.ReadFile(s.filePath(telegramID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("telegram id %s: %w", telegramID, model.ErrNotFound)
		}
		return nil, err
	}

	var req model.RegistrationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request %s: %w", telegramID, err)
	}

	return &req, nil
}

// writeRequest replaces the file atomically so readers never see a torn record.
func (s *FileStore) writeRequest(req *model.RegistrationRequest) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+req.TelegramID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write request: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync request: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.filePath(req.TelegramID)); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	return nil
}

func (s *FileStore) listAllUnsafe() ([]*model.RegistrationRequest, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	requests := make([]*model.RegistrationRequest, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		telegramID := strings.TrimSuffix(entry.Name(), ".json")
		req, err := s.readRequest(telegramID)
		if err != nil {
			continue // Skip invalid files
		}
		requests = append(requests, req)
	}

	sortRequests(requests)

	return requests, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
