package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

func TestHTTPEngine_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		creds   fleet.Credentials
		wantErr bool
	}{
		{"correct credentials", fleet.Credentials{Type: fleet.AuthBasic, Username: "admin", Password: "secret"}, false},
		{"wrong password", fleet.Credentials{Type: fleet.AuthBasic, Username: "admin", Password: "nope"}, true},
		{"no auth", fleet.Credentials{Type: fleet.AuthNone}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := fleet.Device{ID: "a", BaseURL: srv.URL, GUIPath: "/", Auth: tt.creds}
			conn, err := (&HTTPEngine{}).Open(context.Background(), dev)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer conn.Close()

			err = conn.Load(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPEngine_DigestChallenge(t *testing.T) {
	var digestSeen atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Digest ") {
			w.Header().Set("WWW-Authenticate", `Digest realm="camera", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", qop="auth", algorithm=MD5`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.Contains(auth, `username="admin"`) && strings.Contains(auth, `realm="camera"`) {
			digestSeen.Store(true)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	dev := fleet.Device{
		ID: "a", BaseURL: srv.URL, GUIPath: "/",
		Auth: fleet.Credentials{Type: fleet.AuthDigest, Username: "admin", Password: "secret"},
	}
	conn, err := (&HTTPEngine{}).Open(context.Background(), dev)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !digestSeen.Load() {
		t.Error("server never received a digest response")
	}
}

func TestHTTPEngine_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cmd" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dev := fleet.Device{ID: "a", BaseURL: srv.URL, GUIPath: "/cmd"}
	conn, _ := (&HTTPEngine{}).Open(context.Background(), dev)
	defer conn.Close()

	out := fleet.HTTPCommand{Method: http.MethodGet, Path: "/cmd"}.Execute(context.Background(), dev, conn)
	if !out.OK || out.StatusCode != http.StatusFound {
		t.Errorf("Execute() = %+v, want ok with 302", out)
	}
}

func TestHTTPEngine_ProbeAndClick(t *testing.T) {
	up := atomic.Bool{}
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dev := fleet.Device{ID: "a", BaseURL: srv.URL, GUIPath: "/"}
	m := NewManager(&HTTPEngine{}, Options{}, nil)

	s, err := m.EnsureSession(context.Background(), dev, false)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if !m.IsAlive(context.Background(), "a") {
		t.Error("IsAlive() = false, want true")
	}

	up.Store(false)
	if m.IsAlive(context.Background(), "a") {
		t.Error("IsAlive() = true after server went unhealthy")
	}

	if err := s.Surface().Click(context.Background(), "rec"); !errors.Is(err, ErrClickUnsupported) {
		t.Errorf("Click() error = %v, want ErrClickUnsupported", err)
	}
}

func TestHTTPEngine_ConnectRefused(t *testing.T) {
	m := NewManager(&HTTPEngine{}, Options{}, nil)
	dev := fleet.Device{ID: "dead", BaseURL: "http://127.0.0.1:1", GUIPath: "/"}

	_, err := m.EnsureSession(context.Background(), dev, false)
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Stage != StageLoad {
		t.Errorf("error = %v, want ConnectError at load stage", err)
	}
}

func TestBaseTransport_InsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tests := []struct {
		insecure bool
		wantErr  bool
	}{
		{insecure: true, wantErr: false},
		{insecure: false, wantErr: true},
	}
	for _, tt := range tests {
		client := &http.Client{Transport: BaseTransport(tt.insecure)}
		resp, err := client.Get(srv.URL)
		if err == nil {
			resp.Body.Close()
		}
		if (err != nil) != tt.wantErr {
			t.Errorf("insecure=%v: error = %v, wantErr %v", tt.insecure, err, tt.wantErr)
		}
	}
}
