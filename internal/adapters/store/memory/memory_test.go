package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

func TestStore_MutationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	same := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var ids []int64
	for _, url := range []string{"/a", "/b", "/c"} {
		m := &offline.QueuedMutation{Method: offline.MethodPost, URL: url, Status: offline.StatusPending, CreatedAt: same}
		id, err := s.InsertMutation(ctx, m)
		if err != nil {
			t.Fatalf("InsertMutation() error = %v", err)
		}
		ids = append(ids, id)
	}

	got, err := s.QueryMutationsByStatus(ctx, offline.StatusPending)
	if err != nil {
		t.Fatalf("QueryMutationsByStatus() error = %v", err)
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Errorf("position %d: id = %d, want %d", i, m.ID, ids[i])
		}
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	m := &offline.QueuedMutation{
		Method: offline.MethodPost, URL: "/pupils", Status: offline.StatusPending,
		ExtraHeaders: map[string]string{"X-School-ID": "1"}, CreatedAt: time.Now(),
	}
	id, _ := s.InsertMutation(ctx, m)

	got, _ := s.GetMutation(ctx, id)
	got.Status = offline.StatusSyncing
	got.ExtraHeaders["X-School-ID"] = "changed"

	again, _ := s.GetMutation(ctx, id)
	if again.Status != offline.StatusPending || again.ExtraHeaders["X-School-ID"] != "1" {
		t.Errorf("store state mutated through returned value: %+v", again)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetCacheEntry(ctx, "/x"); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Errorf("GetCacheEntry() error = %v", err)
	}
	if _, err := s.GetMutation(ctx, 1); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Errorf("GetMutation() error = %v", err)
	}
	if _, err := s.GetSession(ctx); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Errorf("GetSession() error = %v", err)
	}
}

func TestStore_CountAndClear(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.PutCacheEntry(ctx, &offline.CacheEntry{Key: "/fees", Payload: json.RawMessage(`{}`), CachedAt: time.Now()})
	_ = s.PutSession(ctx, &offline.SessionRecord{UserID: "u1"})
	_, _ = s.InsertMutation(ctx, &offline.QueuedMutation{Method: offline.MethodPost, URL: "/fees", Status: offline.StatusPending})

	tests := []struct {
		table ports.Table
		want  int
	}{
		{ports.TableCache, 1},
		{ports.TableSession, 1},
		{ports.TableMutations, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.table), func(t *testing.T) {
			if n, _ := s.Count(ctx, tt.table); n != tt.want {
				t.Errorf("Count() = %d, want %d", n, tt.want)
			}
			if err := s.Clear(ctx, tt.table); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if n, _ := s.Count(ctx, tt.table); n != 0 {
				t.Errorf("Count() after Clear() = %d", n)
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	s := New()
	_ = s.Close()
	if _, err := s.CountMutations(context.Background()); !errors.Is(err, domainErrors.ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestStore_ClaimAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := &offline.QueuedMutation{Method: offline.MethodPost, URL: "/pupils", Status: offline.StatusFailedTransient, CreatedAt: time.Now()}
	id, _ := s.InsertMutation(ctx, m)

	if ok, _ := s.ClaimMutation(ctx, id); !ok {
		t.Fatal("failed-transient item not claimable")
	}
	if ok, _ := s.ClaimMutation(ctx, id); ok {
		t.Error("syncing item claimed twice")
	}

	_ = s.DeleteMutation(ctx, id)
	m.Status = offline.StatusPending
	if err := s.UpdateMutation(ctx, m); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Errorf("UpdateMutation(deleted) error = %v, want ErrNotFound", err)
	}
	if n, _ := s.CountMutations(ctx); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestStore_Leases(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if ok, _ := s.AcquireLease(ctx, "drain", "a", now, now.Add(time.Minute)); !ok {
		t.Fatal("AcquireLease(a) failed")
	}
	if ok, _ := s.AcquireLease(ctx, "drain", "b", now, now.Add(time.Minute)); ok {
		t.Error("b took a live lease")
	}
	later := now.Add(2 * time.Minute)
	if ok, _ := s.AcquireLease(ctx, "drain", "b", later, later.Add(time.Minute)); !ok {
		t.Error("b could not take an expired lease")
	}
	if ok, _ := s.RenewLease(ctx, "drain", "a", later.Add(time.Hour)); ok {
		t.Error("a renewed a lease it lost")
	}
	_ = s.ReleaseLease(ctx, "drain", "b")
	if ok, _ := s.AcquireLease(ctx, "drain", "a", later, later.Add(time.Minute)); !ok {
		t.Error("lease not free after release")
	}
}
