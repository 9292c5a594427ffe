package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staffgate/staffgate-api/internal/model"
)

// fakeClock hands out strictly increasing timestamps so ordering is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type storeFactory func(t *testing.T, now func() time.Time) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	factories := map[string]storeFactory{
		"file": func(t *testing.T, now func() time.Time) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			s.now = now
			return s
		},
		"sqlite": func(t *testing.T, now func() time.Time) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "staffgate.db"))
			require.NoError(t, err)
			s.now = now
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("STAFFGATE_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T, now func() time.Time) Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			_, err = s.db.Exec(`TRUNCATE registration_requests`)
			require.NoError(t, err)
			s.now = now
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return factories
}

func newRequest(telegramID, name string) *model.RegistrationRequest {
	return &model.RegistrationRequest{
		TelegramID: telegramID,
		Name:       name,
		Phone:      "+15551234567",
	}
}

// runContract runs fn against every available backend.
func runContract(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock.Now), clock)
		})
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		req := newRequest("1001", "Ivan Petrov")
		require.NoError(t, s.Create(ctx, req))
		assert.Equal(t, model.StatusPending, req.Status)
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, model.RoleEmployee, req.Role)

		got, err := s.Get(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, req.ID, got.ID)
		assert.Equal(t, "Ivan Petrov", got.Name)
		assert.Equal(t, "+15551234567", got.Phone)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.True(t, req.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.ProcessedAt)
	})
}

func TestStore_GetUnknown(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		_, err := s.Get(context.Background(), "404")
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = s.Get(context.Background(), "../escape")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestStore_CreateValidation(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		bad := newRequest("2001", "Ivan")
		bad.Phone = "12345"
		assert.ErrorIs(t, s.Create(ctx, bad), model.ErrValidation)

		_, err := s.Get(ctx, "2001")
		assert.ErrorIs(t, err, model.ErrNotFound, "nothing is stored on failure")
	})
}

func TestStore_CreateConflict(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRequest("3001", "First")))

		err := s.Create(ctx, newRequest("3001", "Second"))
		assert.ErrorIs(t, err, model.ErrConflict)

		_, err = s.Transition(ctx, "3001", model.StatusApproved, "admin")
		require.NoError(t, err)

		err = s.Create(ctx, newRequest("3001", "Third"))
		assert.ErrorIs(t, err, model.ErrConflict, "approved requests stay active")

		got, err := s.Get(ctx, "3001")
		require.NoError(t, err)
		assert.Equal(t, "First", got.Name)
		assert.Equal(t, model.StatusApproved, got.Status)
	})
}

func TestStore_ResubmitAfterRejection(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		first := newRequest("4001", "First")
		require.NoError(t, s.Create(ctx, first))
		_, err := s.Transition(ctx, "4001", model.StatusRejected, "admin")
		require.NoError(t, err)

		second := newRequest("4001", "Second")
		require.NoError(t, s.Create(ctx, second))

		got, err := s.Get(ctx, "4001")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, "Second", got.Name)
		assert.Empty(t, got.ProcessedBy)
		assert.Nil(t, got.ProcessedAt)
		assert.True(t, got.CreatedAt.After(first.CreatedAt))

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1, "one record per telegram id")
	})
}

func TestStore_ListPendingOrder(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b", "d"} {
			require.NoError(t, s.Create(ctx, newRequest(id, "Name "+id)))
		}
		_, err := s.Transition(ctx, "a", model.StatusApproved, "admin")
		require.NoError(t, err)
		_, err = s.Transition(ctx, "d", model.StatusRejected, "admin")
		require.NoError(t, err)

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "c", pending[0].TelegramID, "oldest first")
		assert.Equal(t, "b", pending[1].TelegramID)
		for _, req := range pending {
			assert.Equal(t, model.StatusPending, req.Status)
		}

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, req := range all {
			ids = append(ids, req.TelegramID)
		}
		assert.Equal(t, []string{"c", "b", "a", "d"}, ids, "pending first, then decided by age")

		approved := model.StatusApproved
		onlyApproved, err := s.List(ctx, &approved)
		require.NoError(t, err)
		require.Len(t, onlyApproved, 1)
		assert.Equal(t, "a", onlyApproved[0].TelegramID)
	})
}

func TestStore_ListEmpty(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		pending, err := s.ListPending(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, pending)
		assert.Empty(t, pending)
	})
}

func TestStore_Transition(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		req := newRequest("5001", "Ivan")
		require.NoError(t, s.Create(ctx, req))

		updated, err := s.Transition(ctx, "5001", model.StatusApproved, "root")
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, updated.Status)
		assert.Equal(t, "root", updated.ProcessedBy)
		require.NotNil(t, updated.ProcessedAt)
		assert.True(t, updated.CreatedAt.Equal(req.CreatedAt), "created_at is immutable")
		assert.True(t, updated.UpdatedAt.After(req.CreatedAt))

		_, err = s.Transition(ctx, "5001", model.StatusApproved, "root")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		var terr *model.TransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, model.StatusApproved, terr.Current)

		_, err = s.Transition(ctx, "5001", model.StatusRejected, "root")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)

		got, err := s.Get(ctx, "5001")
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, got.Status)
	})
}

func TestStore_TransitionUnknown(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		_, err := s.Transition(context.Background(), "missing", model.StatusApproved, "admin")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestStore_ConcurrentTransition(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRequest("6001", "Ivan")))

		targets := []model.RequestStatus{model.StatusApproved, model.StatusRejected}
		const rounds = 8

		var (
			wg        sync.WaitGroup
			wins      atomic.Int32
			conflicts atomic.Int32
			mu        sync.Mutex
			winner    model.RequestStatus
		)
		for i := 0; i < rounds; i++ {
			target := targets[i%len(targets)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				updated, err := s.Transition(ctx, "6001", target, fmt.Sprintf("admin-%d", i))
				switch {
				case err == nil:
					wins.Add(1)
					mu.Lock()
					winner = updated.Status
					mu.Unlock()
				case errors.Is(err, model.ErrInvalidTransition):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load(), "exactly one transition wins")
		assert.Equal(t, int32(rounds-1), conflicts.Load())

		got, err := s.Get(ctx, "6001")
		require.NoError(t, err)
		assert.Equal(t, winner, got.Status, "stored status matches the winner")
	})
}

func TestStore_ConcurrentCreate(t *testing.T) {
	runContract(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		const callers = 6

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Create(ctx, newRequest("7001", fmt.Sprintf("Caller %d", i)))
				if err == nil {
					wins.Add(1)
					return
				}
				if !errors.Is(err, model.ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestFileStore_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0750))
	require.NoError(t, s.Create(context.Background(), newRequest("8001", "Ivan")))

	all, err := s.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "8001", all[0].TelegramID)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staffgate.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), newRequest("9001", "Ivan")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err, "migrations are idempotent")
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.Get(context.Background(), "9001")
	require.NoError(t, err)
	assert.Equal(t, "Ivan", got.Name)
}

func TestMigrateSQLite_RecordsVersion(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "staffgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	version, dirty, err := sqliteVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.False(t, dirty)

	require.NoError(t, migrateSQLite(ctx, s.db), "second run is a no-op")
	version, _, err = sqliteVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = s.db.ExecContext(ctx, `UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)
	assert.Error(t, migrateSQLite(ctx, s.db), "dirty databases are not migrated")
}
