package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/testutil"
	"github.com/jbctechsolutions/schoolsync/internal/presentation/cli/output"
)

// testEnv is an isolated home directory, config file and fake API.
type testEnv struct {
	server     *testutil.RecordingServer
	configPath string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	output.ResetColorDetection()

	dir := t.TempDir()
	server := testutil.NewRecordingServer(t)
	content := fmt.Sprintf(`api:
  base_url: %s
storage:
  path: %s
logging:
  level: error
%s`, server.URL, filepath.Join(dir, "data", "schoolsync.db"), extra)

	return &testEnv{
		server:     server,
		configPath: testutil.WriteFile(t, dir, "config.yaml", content),
	}
}

// run executes the CLI with the env's config and returns its output.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, args...)
}

func (e *testEnv) runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeCommand(ctx, NewRootCmd(), append([]string{"--config", e.configPath}, args...)...)
}

// requestsTo returns the recorded requests for path, ignoring health probes.
func (e *testEnv) requestsTo(path string) []testutil.RecordedRequest {
	var out []testutil.RecordedRequest
	for _, r := range e.server.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// executeCommand executes a cobra command with the given args.
func executeCommand(ctx context.Context, root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when RunE fails.
	_ = closeApp()
	return buf.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd.Use != "schoolsync" {
		t.Errorf("expected Use='schoolsync', got %q", cmd.Use)
	}

	wantSubcmds := []string{"version", "config", "get", "send", "queue", "sync", "status", "login", "logout", "daemon", "shell"}
	subcmds := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcmds[sub.Name()] = true
	}
	for _, want := range wantSubcmds {
		if !subcmds[want] {
			t.Errorf("missing subcommand: %s", want)
		}
	}

	for _, flag := range []string{"config", "output", "verbose", "offline"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag: %s", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"basic", []string{"version"}, "Schoolsync"},
		{"short", []string{"version", "--short"}, Version},
		{"json", []string{"version", "-o", "json"}, `"go_version"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(context.Background(), NewRootCmd(), tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q missing %q", out, tt.want)
			}
		})
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run(t, "status", "-o", "xml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := executeCommand(context.Background(), NewRootCmd(), "--config", "/does/not/exist.yaml", "status")
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestGetCmd_CachesAndFallsBack(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.Respond(http.StatusOK, `{"pupils":["Amy"]}`)

	out, err := env.run(t, "get", "/pupils", "-p", "class=4B")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.Contains(out, `"Amy"`) {
		t.Errorf("output = %q", out)
	}
	reqs := env.requestsTo("/pupils")
	if len(reqs) != 1 || reqs[0].Query != "class=4B" {
		t.Fatalf("requests = %+v", reqs)
	}

	out, err = env.run(t, "--offline", "get", "/pupils", "-p", "class=4B")
	if err != nil {
		t.Fatalf("offline get failed: %v", err)
	}
	if !strings.Contains(out, "Showing saved data while offline") || !strings.Contains(out, `"Amy"`) {
		t.Errorf("offline output = %q", out)
	}
	if n := len(env.requestsTo("/pupils")); n != 1 {
		t.Errorf("offline get reached the server: %d requests", n)
	}
}

func TestGetCmd_NoCachedData(t *testing.T) {
	env := newTestEnv(t, "")

	if _, err := env.run(t, "--offline", "get", "/classes"); err == nil {
		t.Error("expected error when nothing is saved")
	}
}

func TestGetCmd_InvalidParam(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run(t, "get", "/pupils", "-p", "novalue"); err == nil {
		t.Error("expected error for malformed parameter")
	}
}

func TestSendQueueSync(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.Respond(http.StatusCreated, `{"id":11}`)

	out, err := env.run(t, "--offline", "send", "POST", "/pupils", "-d", `{"first_name":"Amy"}`, "-H", "X-School=12")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.HasPrefix(out, "queued POST /pupils") {
		t.Errorf("send output = %q", out)
	}

	out, err = env.run(t, "queue", "-o", "json")
	if err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("queue output is not JSON: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0]["method"] != "POST" || items[0]["status"] != "pending" {
		t.Fatalf("queue = %v", items)
	}

	out, err = env.run(t, "sync")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !strings.Contains(out, "Synced 1 change(s)") {
		t.Errorf("sync output = %q", out)
	}

	reqs := env.requestsTo("/pupils")
	if len(reqs) != 1 {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Method != http.MethodPost || reqs[0].Body != `{"first_name":"Amy"}` || reqs[0].Header.Get("X-School") != "12" {
		t.Errorf("replayed request = %+v", reqs[0])
	}

	out, _ = env.run(t, "queue")
	if !strings.Contains(out, "Queue is empty") {
		t.Errorf("queue after sync = %q", out)
	}
}

func TestSendCmd_LiveRejectionIsNotQueued(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.Respond(http.StatusUnprocessableEntity, `{"error":"first_name required"}`)

	if _, err := env.run(t, "send", "POST", "/pupils", "-d", `{}`); err == nil {
		t.Fatal("expected the rejection to be reported")
	}

	out, err := env.run(t, "status", "-o", "json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var st SystemStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if st.Pending != 0 {
		t.Errorf("pending = %d, want 0", st.Pending)
	}
}

func TestSendCmd_Validation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"unsupported method", []string{"send", "GET", "/pupils"}},
		{"invalid json", []string{"send", "POST", "/pupils", "-d", "{nope"}},
		{"missing body file", []string{"send", "POST", "/pupils", "-d", "@/does/not/exist.json"}},
		{"bad header", []string{"send", "DELETE", "/fees/3", "-H", "X-School"}},
		{"missing path", []string{"send", "POST"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSyncCmd_Offline(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "--offline", "sync")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !strings.Contains(out, "Offline: 0 change(s) waiting") {
		t.Errorf("output = %q", out)
	}
}

func TestQueueClear(t *testing.T) {
	env := newTestEnv(t, "")

	if _, err := env.run(t, "--offline", "send", "DELETE", "/fees/3"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := env.run(t, "queue", "clear"); err == nil {
		t.Fatal("expected clear without --force to fail")
	}

	out, err := env.run(t, "queue", "clear", "--force")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(out, "Discarded 1 queued change(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t, "")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "teacher-7"}).
		SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "login", "--access-token", token)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, "Signed in as teacher-7") {
		t.Errorf("login output = %q", out)
	}

	// A queued write survives logout and is replayed with the next session.
	if _, err := env.run(t, "--offline", "send", "PATCH", "/fees/3", "-d", `{"paid":true}`); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	out, err = env.run(t, "logout")
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if !strings.Contains(out, "1 change(s) still waiting to sync") {
		t.Errorf("logout output = %q", out)
	}

	out, _ = env.run(t, "status", "-o", "json")
	var st SystemStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if st.User != "" || st.Pending != 1 {
		t.Errorf("status after logout = %+v", st)
	}

	if _, err := env.run(t, "login", "--access-token", "fresh-token"); err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if _, err := env.run(t, "sync"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	reqs := env.requestsTo("/fees/3")
	if len(reqs) != 1 || reqs[0].Header.Get("Authorization") != "Bearer fresh-token" {
		t.Errorf("replayed request = %+v", reqs)
	}
}

func TestLoginCmd_RequiresToken(t *testing.T) {
	env := newTestEnv(t, "")
	t.Setenv("SCHOOLSYNC_ACCESS_TOKEN", "")

	if _, err := env.run(t, "login"); err == nil {
		t.Error("expected error without an access token")
	}
	if _, err := env.run(t, "login", "--access-token", "t", "--user", "{bad"); err == nil {
		t.Error("expected error for invalid --user JSON")
	}
}

func TestStatusCmd_Text(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "status", "--check")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"Connectivity: online", "Pending changes: 0", "Signed in: no", env.configPath} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if n := len(env.requestsTo("/health")); n != 1 {
		t.Errorf("health probes = %d, want 1", n)
	}
}

func TestConfigCmds(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)

			out, err := executeCommand(context.Background(), NewRootCmd(),
				"config", "init", "--config", path, "--base-url", "https://school.test/api")
			if err != nil {
				t.Fatalf("init failed: %v", err)
			}
			if !strings.Contains(out, "Wrote "+path) {
				t.Errorf("init output = %q", out)
			}

			if _, err := executeCommand(context.Background(), NewRootCmd(), "config", "init", "--config", path); err == nil {
				t.Error("expected init to refuse overwriting")
			}

			out, err = executeCommand(context.Background(), NewRootCmd(), "config", "validate", "--config", path)
			if err != nil {
				t.Fatalf("validate failed: %v", err)
			}
			if !strings.Contains(out, "is valid") {
				t.Errorf("validate output = %q", out)
			}

			out, err = executeCommand(context.Background(), NewRootCmd(), "config", "show", "--config", path)
			if err != nil {
				t.Fatalf("show failed: %v", err)
			}
			if !strings.Contains(out, "base_url: https://school.test/api") {
				t.Errorf("show output = %q", out)
			}
		})
	}
}

func TestConfigValidate_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := testutil.WriteFile(t, t.TempDir(), "config.yaml", "storage:\n  driver: floppy\n")

	if _, err := executeCommand(context.Background(), NewRootCmd(), "config", "validate", "--config", path); err == nil {
		t.Error("expected validation error")
	}
}

func TestDaemonCmd_DrainsOnStartup(t *testing.T) {
	env := newTestEnv(t, "sync:\n  startup_grace: 10ms\n  settle_delay: 10ms\n")
	env.server.Respond(http.StatusOK, `{}`)

	if _, err := env.run(t, "--offline", "send", "PUT", "/pupils/7", "-d", `{"class":"4B"}`); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := env.runContext(ctx, t, "daemon")
	if err != nil {
		t.Fatalf("daemon failed: %v", err)
	}
	if !strings.Contains(out, "sync-complete synced=1") {
		t.Errorf("daemon output = %q", out)
	}
	if n := len(env.requestsTo("/pupils/7")); n != 1 {
		t.Errorf("replayed %d requests, want 1", n)
	}
}

func TestShellSession_Exec(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	server := testutil.NewRecordingServer(t)

	cfg := config.NewDefaultConfig()
	cfg.API.BaseURL = server.URL
	cfg.Storage.Driver = "memory"
	cfg.Logging.Level = "error"
	container, err := application.NewContainer(cfg, false)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	var buf bytes.Buffer
	sh := &shellSession{
		container: container,
		formatter: output.NewFormatter(output.WithWriter(&buf), output.WithColor(false)),
	}
	ctx := context.Background()

	exec := func(line string) string {
		t.Helper()
		buf.Reset()
		if _, err := sh.exec(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		return buf.String()
	}

	if out := exec("offline"); !strings.Contains(out, "offline") {
		t.Errorf("offline output = %q", out)
	}
	if out := exec(`post /attendance {"pupil": 7, "present": true}`); !strings.HasPrefix(out, "queued POST /attendance") {
		t.Errorf("post output = %q", out)
	}
	if out := exec("queue"); !strings.Contains(out, "/attendance") {
		t.Errorf("queue output = %q", out)
	}
	if out := exec("sync"); !strings.Contains(out, "Offline: 1 change(s) waiting") {
		t.Errorf("offline sync output = %q", out)
	}

	exec("online")
	if out := exec("sync"); !strings.Contains(out, "Synced 1 change(s)") {
		t.Errorf("sync output = %q", out)
	}
	reqs := server.Requests()
	if len(reqs) != 1 || reqs[0].Body != `{"pupil": 7, "present": true}` {
		t.Errorf("requests = %+v", reqs)
	}

	if out := exec("status"); !strings.Contains(out, "Pending changes: 0") {
		t.Errorf("status output = %q", out)
	}
	if out := exec("help"); !strings.Contains(out, "Commands") {
		t.Errorf("help output = %q", out)
	}
	if out := exec("   "); out != "" {
		t.Errorf("blank line output = %q", out)
	}

	for _, line := range []string{"get", "post", "put /x {bad", "login", "frobnicate"} {
		if _, err := sh.exec(ctx, line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}

	for _, line := range []string{"exit", "QUIT"} {
		exit, err := sh.exec(ctx, line)
		if err != nil || !exit {
			t.Errorf("%q: exit=%v err=%v", line, exit, err)
		}
	}
}
