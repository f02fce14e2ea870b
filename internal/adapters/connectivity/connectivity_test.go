package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

func TestStatus_TransitionsOnly(t *testing.T) {
	s := NewStatus(false)

	var got []bool
	s.Subscribe(func(online bool) { got = append(got, online) })

	if s.SetOnline(false) {
		t.Error("SetOnline(false) while offline reported a transition")
	}
	if !s.SetOnline(true) {
		t.Error("SetOnline(true) while offline should be a transition")
	}
	s.SetOnline(true)
	s.SetOnline(false)

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("notifications = %v, want [true false]", got)
	}
	if s.IsOnline() {
		t.Error("IsOnline() = true, want false")
	}
}

func TestStatus_Unsubscribe(t *testing.T) {
	s := NewStatus(true)
	calls := 0
	unsub := s.Subscribe(func(bool) { calls++ })
	unsub()
	unsub()

	s.SetOnline(false)
	if calls != 0 {
		t.Errorf("calls = %d after unsubscribe", calls)
	}
}

func TestProbe_Check(t *testing.T) {
	t.Run("any response is online", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		status := NewStatus(false)
		p := NewProbe(server.URL+"/health", status, WithProbeLogger(logging.Discard()))
		if !p.Check(context.Background()) {
			t.Error("Check() = false, want true")
		}
		if !status.IsOnline() {
			t.Error("status not updated")
		}
	})

	t.Run("unreachable is offline", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		status := NewStatus(true)
		p := NewProbe(url+"/health", status, WithProbeLogger(logging.Discard()))
		if p.Check(context.Background()) {
			t.Error("Check() = true, want false")
		}
		if status.IsOnline() {
			t.Error("status not updated")
		}
	})
}

func TestProbe_Run(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer server.Close()

	status := NewStatus(false)
	p := NewProbe(server.URL, status, WithProbeInterval(10*time.Millisecond), WithProbeLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits < 2 {
		t.Errorf("hits = %d, want at least 2", hits)
	}
	if !status.IsOnline() {
		t.Error("status should be online")
	}
}

func TestProbe_RunEmptyURL(t *testing.T) {
	p := NewProbe("", NewStatus(false), WithProbeLogger(logging.Discard()))
	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() with empty url should error")
	}
}

func TestPresence_Run(t *testing.T) {
	drop := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		select {
		case <-drop:
			c.Close(websocket.StatusGoingAway, "restart")
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	status := NewStatus(false)
	changes := make(chan bool, 10)
	status.Subscribe(func(online bool) { changes <- online })

	p := NewPresence(server.URL, status,
		WithPresenceBackoff(time.Hour, time.Hour),
		WithPresenceLogger(logging.Discard()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	expect := func(want bool) {
		t.Helper()
		select {
		case got := <-changes:
			if got != want {
				t.Fatalf("transition = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for online=%v", want)
		}
	}

	expect(true)
	once.Do(func() { close(drop) })
	expect(false)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestPresence_NextDelayCapped(t *testing.T) {
	p := NewPresence("ws://example.invalid", NewStatus(false), WithPresenceBackoff(10*time.Millisecond, 50*time.Millisecond))
	for i := 0; i < 10; i++ {
		if d := p.nextDelay(); d > 50*time.Millisecond {
			t.Fatalf("delay %v exceeds max", d)
		}
	}
}

func TestNewPresence_RewritesScheme(t *testing.T) {
	tests := map[string]string{
		"https://api.school.test/realtime": "wss://api.school.test/realtime",
		"http://localhost:8080/ws":         "ws://localhost:8080/ws",
		"wss://already":                    "wss://already",
	}
	for in, want := range tests {
		if got := NewPresence(in, NewStatus(false)).url; got != want {
			t.Errorf("NewPresence(%q).url = %q, want %q", in, got, want)
		}
	}
}
