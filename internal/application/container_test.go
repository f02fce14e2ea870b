package application

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/testutil"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "schoolsync.db")
	cfg.Logging.Level = "error"
	return cfg
}

func TestNewContainer(t *testing.T) {
	container, err := NewContainer(newTestConfig(t), false)
	if err != nil {
		t.Fatalf("NewContainer failed: %v", err)
	}
	defer container.Close()

	if container.Config() == nil {
		t.Error("Config should not be nil")
	}
	if container.Store() == nil || !container.Store().Available() {
		t.Error("Store should be available")
	}
	if container.StoreError() != nil {
		t.Errorf("StoreError = %v", container.StoreError())
	}
	if container.API() == nil {
		t.Error("API should not be nil")
	}
	if container.Queue() == nil {
		t.Error("Queue should not be nil")
	}
	if container.Engine() == nil {
		t.Error("Engine should not be nil")
	}
	if container.Monitor() == nil {
		t.Error("Monitor should not be nil")
	}
	if container.SessionManager() == nil {
		t.Error("SessionManager should not be nil")
	}
	if container.Connectivity() == nil || !container.Connectivity().IsOnline() {
		t.Error("Connectivity should start online")
	}
	if container.Probe() == nil {
		t.Error("Probe should be derived from the base URL")
	}
	if container.Presence() != nil {
		t.Error("Presence should be nil without a realtime URL")
	}
	if container.Bus() == nil || container.Logger() == nil || container.Tracer() == nil {
		t.Error("Bus, Logger and Tracer should not be nil")
	}
}

func TestNewContainer_NilConfigUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	container, err := NewContainer(nil, false)
	if err != nil {
		t.Fatalf("NewContainer(nil) failed: %v", err)
	}
	defer container.Close()

	if container.Config().API.BaseURL != config.DefaultBaseURL {
		t.Errorf("BaseURL = %q", container.Config().API.BaseURL)
	}
}

func TestNewContainer_UnknownDriver(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Storage.Driver = "floppy"

	if _, err := NewContainer(cfg, false); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewContainer_UnavailableStore(t *testing.T) {
	cfg := newTestConfig(t)
	// A regular file where the data directory should be.
	blocker := testutil.WriteFile(t, t.TempDir(), "blocker", "")
	cfg.Storage.Path = filepath.Join(blocker, "schoolsync.db")

	container, err := NewContainer(cfg, false)
	if err != nil {
		t.Fatalf("NewContainer failed: %v", err)
	}
	defer container.Close()

	if container.Store().Available() {
		t.Fatal("store should be unavailable")
	}
	if !errors.Is(container.StoreError(), domainErrors.ErrStoreUnavailable) {
		t.Errorf("StoreError = %v", container.StoreError())
	}
	if n := container.API().PendingSyncCount(context.Background()); n != 0 {
		t.Errorf("PendingSyncCount = %d", n)
	}
}

func TestContainer_EndToEnd(t *testing.T) {
	server := testutil.NewRecordingServer(t)
	server.Respond(http.StatusCreated, `{"id":11}`)

	cfg := newTestConfig(t)
	cfg.API.BaseURL = server.URL
	cfg.Storage.Driver = "memory"

	container, err := NewContainer(cfg, false)
	testutil.AssertNoError(t, err)
	defer container.Close()

	ctx := context.Background()
	api := container.API()

	container.Connectivity().SetOnline(false)
	res, err := api.Post(ctx, "/pupils", map[string]any{"first_name": "Amy"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome(), offline.OutcomeQueued)
	testutil.AssertEqual(t, api.PendingSyncCount(ctx), 1)

	container.Connectivity().SetOnline(true)
	summary, err := api.ProcessQueue(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, summary.Synced, 1)
	testutil.AssertEqual(t, api.PendingSyncCount(ctx), 0)

	reqs := server.Requests()
	if len(reqs) != 1 || reqs[0].Path != "/pupils" || reqs[0].Body != `{"first_name":"Amy"}` {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestContainer_ApplyConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Storage.Driver = "memory"

	container, err := NewContainer(cfg, false)
	testutil.AssertNoError(t, err)
	defer container.Close()

	next := config.NewDefaultConfig()
	next.API.BaseURL = "https://other.school.test/"
	next.Logging.Level = "debug"
	container.ApplyConfig(next)

	testutil.AssertEqual(t, container.BaseURL().BaseURL(), "https://other.school.test")
	testutil.AssertEqual(t, container.Logger().Enabled(context.Background(), slog.LevelDebug), true)
}

func TestContainer_EncryptedSession(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Storage.EncryptSession = true

	container, err := NewContainer(cfg, false)
	testutil.AssertNoError(t, err)
	defer container.Close()

	ctx := context.Background()
	_, err = container.SessionManager().Save(ctx, offline.Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)
	testutil.AssertNoError(t, err)

	raw, err := container.Store().GetSession(ctx)
	testutil.AssertNoError(t, err)
	if raw.Tokens.AccessToken == "access-1" {
		t.Error("access token persisted in plaintext")
	}

	token, err := container.SessionManager().AccessToken(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token, "access-1")
}
