package fleet

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// ─── Test Surfaces ─────────────────────────────────────────────────

// clientSurface sends requests with a plain http.Client.
type clientSurface struct {
	client  *http.Client
	clicked []string
	clickFn func(string) error
}

func (s *clientSurface) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}

func (s *clientSurface) Click(_ context.Context, id string) error {
	s.clicked = append(s.clicked, id)
	if s.clickFn != nil {
		return s.clickFn(id)
	}
	return nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

// ─── HTTPCommand ───────────────────────────────────────────────────

func TestHTTPCommand_Execute(t *testing.T) {
	var gotMethod, gotQuery, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")

		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/redirect":
			w.WriteHeader(http.StatusFound)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(strings.Repeat("denied ", 100)))
		}
	}))
	defer srv.Close()

	dev := Device{ID: "a", Name: "A", BaseURL: srv.URL}
	surface := &clientSurface{client: &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}}

	tests := []struct {
		name       string
		cmd        HTTPCommand
		wantOK     bool
		wantStatus int
	}{
		{"2xx succeeds", HTTPCommand{Method: "GET", Path: "/ok"}, true, http.StatusOK},
		{"3xx succeeds", HTTPCommand{Method: "GET", Path: "/redirect"}, true, http.StatusFound},
		{"4xx fails", HTTPCommand{Method: "GET", Path: "/forbidden"}, false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.cmd.Execute(context.Background(), dev, surface)
			if out.OK != tt.wantOK || out.StatusCode != tt.wantStatus {
				t.Errorf("Execute() = %+v, want ok=%v status=%d", out, tt.wantOK, tt.wantStatus)
			}
		})
	}

	t.Run("failure detail is bounded", func(t *testing.T) {
		out := HTTPCommand{Method: "GET", Path: "/forbidden"}.Execute(context.Background(), dev, surface)
		if !strings.HasPrefix(out.Detail, "HTTP 403: denied") {
			t.Errorf("Detail = %q", out.Detail)
		}
		if len(out.Detail) > len("HTTP 403: ")+maxDetailBytes {
			t.Errorf("Detail length = %d, want <= %d", len(out.Detail), len("HTTP 403: ")+maxDetailBytes)
		}
	})

	t.Run("params and form body", func(t *testing.T) {
		cmd := HTTPCommand{
			Method:      "POST",
			Path:        "/ok",
			Params:      url.Values{"action": {"start"}},
			Body:        "x=1",
			ContentType: formContentType,
		}
		out := cmd.Execute(context.Background(), dev, surface)
		if !out.OK {
			t.Fatalf("Execute() = %+v", out)
		}
		if gotMethod != "POST" || gotQuery != "action=start" || gotBody != "x=1" || gotType != formContentType {
			t.Errorf("request = %s ?%s body=%q type=%q", gotMethod, gotQuery, gotBody, gotType)
		}
	})
}

func TestHTTPCommand_TransportErrorIsOutcome(t *testing.T) {
	dev := Device{ID: "a", BaseURL: "http://127.0.0.1:1"}
	surface := &clientSurface{client: &http.Client{Timeout: time.Second}}

	out := HTTPCommand{Method: "GET", Path: "/"}.Execute(context.Background(), dev, surface)
	if out.OK || out.Detail == "" {
		t.Errorf("Execute() = %+v, want failure with detail", out)
	}
}

func TestHTTPCommand_URL(t *testing.T) {
	dev := Device{BaseURL: "http://cam"}
	cmd := HTTPCommand{Path: "/x?fixed=1", Params: url.Values{"b": {"2"}, "a": {"1", "3"}}}

	if got := cmd.URL(dev); got != "http://cam/x?fixed=1&a=1&a=3&b=2" {
		t.Errorf("URL() = %q", got)
	}
}

// ─── ClickCommand ──────────────────────────────────────────────────

func TestClickCommand_Execute(t *testing.T) {
	surface := &clientSurface{}
	out := ClickCommand{ElementID: "rec"}.Execute(context.Background(), Device{}, surface)
	if !out.OK {
		t.Errorf("Execute() = %+v, want ok", out)
	}
	if len(surface.clicked) != 1 || surface.clicked[0] != "rec" {
		t.Errorf("clicked = %v", surface.clicked)
	}

	surface.clickFn = func(string) error { return ErrElementNotFound }
	out = ClickCommand{ElementID: "missing"}.Execute(context.Background(), Device{}, surface)
	if out.OK || out.Detail != ErrElementNotFound.Error() {
		t.Errorf("Execute() = %+v, want element not found", out)
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"wrapped deadline", errors.Join(errors.New("connect"), context.DeadlineExceeded), "timeout"},
		{"net timeout", timeoutErr{}, "timeout"},
		{"other", errors.New("connection refused"), "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorDetail(tt.err); got != tt.want {
				t.Errorf("ErrorDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}
