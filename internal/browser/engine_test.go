package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nerrad567/multicam-core/internal/fleet"
	"github.com/nerrad567/multicam-core/internal/session"
)

func TestClickScript_QuotesElementID(t *testing.T) {
	got := clickScript(`rec"); alert("x`)
	if !strings.Contains(got, `getElementById("rec\"); alert(\"x")`) {
		t.Errorf("clickScript() = %s, element id not safely quoted", got)
	}
}

func TestZoomScript(t *testing.T) {
	tests := []struct {
		zoom float64
		want string
	}{
		{1, `document.body.style.zoom = "1"`},
		{0.75, `document.body.style.zoom = "0.75"`},
	}
	for _, tt := range tests {
		if got := zoomScript(tt.zoom); got != tt.want {
			t.Errorf("zoomScript(%v) = %s, want %s", tt.zoom, got, tt.want)
		}
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(Options{Headless: true}))
	withPath := len(allocatorOptions(Options{Headless: true, ExecPath: "/usr/bin/chromium"}))
	if withPath != base+1 {
		t.Errorf("ExecPath should add one allocator option: %d vs %d", withPath, base)
	}
}

func TestEngine_OpenAfterClose(t *testing.T) {
	e := New(Options{Headless: true}, nil)
	_ = e.Close()

	_, err := e.Open(context.Background(), fleet.Device{ID: "a"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close error = %v, want ErrClosed", err)
	}
}

// ─── Open Without Chrome ───────────────────────────────────────────

// stubEngine returns an engine whose tabs hang off a background context
// and whose chromedp runs go through run instead of a browser.
func stubEngine(opts Options, run runFunc) *Engine {
	e := New(opts, nil)
	e.start = func() (context.Context, error) { return context.Background(), nil }
	e.runFn = run
	return e
}

func okRun(context.Context, ...chromedp.Action) error { return nil }

func TestEngine_OpenAttachesOnTabContext(t *testing.T) {
	var first context.Context
	e := stubEngine(Options{}, func(ctx context.Context, _ ...chromedp.Action) error {
		if first == nil {
			first = ctx
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	conn, err := e.Open(ctx, fleet.Device{ID: "a", BaseURL: "http://10.0.0.1"})
	cancel()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if first == nil || chromedp.FromContext(first) == nil {
		t.Fatal("first run did not receive a chromedp tab context")
	}
	if first.Err() != nil {
		t.Errorf("tab context done after Open returned: %v", first.Err())
	}
	if _, ok := first.Deadline(); ok {
		t.Error("tab context inherited the Open deadline")
	}

	if err := conn.Probe(context.Background()); err != nil {
		t.Errorf("Probe() after Open error = %v", err)
	}

	_ = conn.Close()
	if first.Err() == nil {
		t.Error("Close() did not cancel the tab context")
	}
}

func TestEngine_OpenTimeoutCancelsTab(t *testing.T) {
	started := make(chan context.Context, 1)
	e := stubEngine(Options{}, func(ctx context.Context, _ ...chromedp.Action) error {
		started <- ctx
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Open(ctx, fleet.Device{ID: "a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Open() error = %v, want DeadlineExceeded", err)
	}

	tabCtx := <-started
	if tabCtx.Err() == nil {
		t.Error("tab context still alive after Open timed out")
	}
}

func TestEngine_OpenRunFailure(t *testing.T) {
	boom := errors.New("target crashed")
	started := make(chan context.Context, 1)
	e := stubEngine(Options{}, func(ctx context.Context, _ ...chromedp.Action) error {
		started <- ctx
		return boom
	})

	_, err := e.Open(context.Background(), fleet.Device{ID: "a"})
	if !errors.Is(err, boom) {
		t.Errorf("Open() error = %v, want %v", err, boom)
	}
	if tabCtx := <-started; tabCtx.Err() == nil {
		t.Error("tab context still alive after a failed Open")
	}
}

func TestEngine_TabClientTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		insecure bool
		wantErr  bool
	}{
		{"insecure_skip_verify set", true, false},
		{"verification on", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := stubEngine(Options{InsecureSkipVerify: tt.insecure}, okRun)
			conn, err := e.Open(context.Background(), fleet.Device{ID: "a", BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer conn.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			resp, err := conn.Do(context.Background(), req)
			if err == nil {
				resp.Body.Close()
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestEngine_Chrome drives a real Chrome; set MULTICAM_CHROME_TEST=1 to run it.
func TestEngine_Chrome(t *testing.T) {
	if os.Getenv("MULTICAM_CHROME_TEST") == "" {
		t.Skip("MULTICAM_CHROME_TEST not set")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="camera"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><button id="rec" onclick="document.title='clicked'">Rec</button></body></html>`))
	}))
	defer srv.Close()

	e := New(Options{Headless: true, ExecPath: os.Getenv("MULTICAM_CHROME_PATH")}, nil)
	defer e.Close()

	m := session.NewManager(e, session.Options{ConnectTimeout: 30 * time.Second}, nil)
	defer m.ShutdownAll()

	dev := fleet.Device{
		ID: "cam", BaseURL: srv.URL, GUIPath: "/", Zoom: 0.8,
		Auth: fleet.Credentials{Type: fleet.AuthBasic, Username: "admin", Password: "secret"},
	}

	s, err := m.EnsureSession(context.Background(), dev, false)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if !m.IsAlive(context.Background(), "cam") {
		t.Error("IsAlive() = false, want true")
	}

	out := fleet.ClickCommand{ElementID: "rec"}.Execute(context.Background(), dev, s.Surface())
	if !out.OK {
		t.Errorf("click rec = %+v, want ok", out)
	}
	out = fleet.ClickCommand{ElementID: "missing"}.Execute(context.Background(), dev, s.Surface())
	if out.OK {
		t.Error("click on a missing element should fail")
	}
}
