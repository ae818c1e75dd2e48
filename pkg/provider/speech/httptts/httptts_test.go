package httptts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type gateway struct {
	mu          sync.Mutex
	speakStatus int
	stopStatus  int
	lastSpeak   speakRequest
	lastAuth    string
	stops       int
}

func newGateway(t *testing.T) (*gateway, *httptest.Server) {
	t.Helper()
	g := &gateway{speakStatus: http.StatusOK, stopStatus: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.lastAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/speak":
			if err := json.NewDecoder(r.Body).Decode(&g.lastSpeak); err != nil {
				t.Errorf("decode speak body: %v", err)
			}
			w.WriteHeader(g.speakStatus)
		case "/stop":
			g.stops++
			w.WriteHeader(g.stopStatus)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return g, srv
}

func TestSpeakOK(t *testing.T) {
	t.Parallel()

	g, srv := newGateway(t)
	c, err := New(Config{Endpoint: srv.URL, APIKey: "key-1", Voice: "en-US-JennyNeural"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok, err := c.Speak(context.Background(), "hello everyone")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !ok {
		t.Fatal("Speak = false, want true on 200")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastSpeak.Text != "hello everyone" || g.lastSpeak.Voice != "en-US-JennyNeural" {
		t.Errorf("speak body = %+v", g.lastSpeak)
	}
	if g.lastAuth != "Bearer key-1" {
		t.Errorf("authorization = %q, want bearer key", g.lastAuth)
	}
}

func TestSpeakDeclinedIsNotAnError(t *testing.T) {
	t.Parallel()

	g, srv := newGateway(t)
	g.speakStatus = http.StatusConflict
	c, _ := New(Config{Endpoint: srv.URL})

	ok, err := c.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak on 409: %v", err)
	}
	if ok {
		t.Fatal("Speak = true, want false when the gateway declines")
	}
}

func TestSpeakServerError(t *testing.T) {
	t.Parallel()

	g, srv := newGateway(t)
	g.speakStatus = http.StatusInternalServerError
	c, _ := New(Config{Endpoint: srv.URL})

	if _, err := c.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("want error on 500, got nil")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	g, srv := newGateway(t)
	c, _ := New(Config{Endpoint: srv.URL})

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stops != 1 {
		t.Fatalf("stops = %d, want 1", g.stops)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("want error for missing endpoint")
	}
}
