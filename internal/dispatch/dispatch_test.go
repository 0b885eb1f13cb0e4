package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/fleet"
	"github.com/nerrad567/multicam-core/internal/session"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type fakeSurface struct {
	deviceID string
	clickErr error
}

func (s *fakeSurface) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

func (s *fakeSurface) Click(context.Context, string) error { return s.clickErr }

type fakeSessions struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []string
}

func (f *fakeSessions) EnsureSurface(_ context.Context, dev fleet.Device, _ bool) (fleet.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dev.ID)
	if err := f.failures[dev.ID]; err != nil {
		return nil, err
	}
	return &fakeSurface{deviceID: dev.ID}, nil
}

type fakeLiveness struct {
	mu    sync.Mutex
	marks map[string]bool
}

func (l *fakeLiveness) Mark(id string, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.marks == nil {
		l.marks = map[string]bool{}
	}
	l.marks[id] = online
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Broadcast(channel string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, channel)
}

type staticRegistry struct{ reg *fleet.Registry }

func (s staticRegistry) Current() *fleet.Registry { return s.reg }

// testRegistry builds three cameras a, b, c plus the given buttons. Click
// actions keep outcomes dependent only on the fake surface.
func testRegistry(t *testing.T, delayMS int, buttons ...fleet.RawButton) *fleet.Registry {
	t.Helper()
	raw := fleet.RawConfig{
		Settings: fleet.RawSettings{CommandDelayMS: &delayMS},
		Cameras: []fleet.RawCamera{
			{Name: "Camera A", ID: "a", URL: "http://a"},
			{Name: "Camera B", ID: "b", URL: "http://b"},
			{Name: "Camera C", ID: "c", URL: "http://c"},
		},
		Buttons: buttons,
	}
	reg, warnings := fleet.Build(raw)
	if len(warnings) != 0 {
		t.Fatalf("Build() warnings = %v", warnings)
	}
	return reg
}

func recStart() fleet.RawButton {
	return fleet.RawButton{Label: "Rec Start", ID: "rec_start", Click: &fleet.RawClick{ElementID: "rec"}}
}

func spotlight() fleet.RawButton {
	return fleet.RawButton{Label: "Spotlight", ID: "spotlight", Targets: []any{"a", "CAMERA C"}, Click: &fleet.RawClick{ElementID: "spot"}}
}

func ids(devs []fleet.Device) string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.ID
	}
	return strings.Join(out, ",")
}

// ─── Resolve ───────────────────────────────────────────────────────

func TestResolve(t *testing.T) {
	reg := testRegistry(t, 0, recStart(), spotlight(),
		fleet.RawButton{Label: "Ghost", Targets: "nobody", Click: &fleet.RawClick{ElementID: "x"}})
	rec, _ := reg.Action("rec_start")
	spot, _ := reg.Action("spotlight")
	ghost, _ := reg.Action("ghost")

	tests := []struct {
		name      string
		action    fleet.ActionSpec
		requested []string
		want      string
	}{
		{"all targets", rec, nil, "a,b,c"},
		{"all narrowed", rec, []string{"c", "a"}, "a,c"},
		{"list by id and name", spot, nil, "a,c"},
		{"list intersect request", spot, []string{"b", "c"}, "c"},
		{"disjoint request", spot, []string{"b"}, ""},
		{"request names do not match", rec, []string{"Camera A"}, ""},
		{"no matching devices", ghost, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.action, tt.requested, reg)
			if got == nil {
				t.Fatal("Resolve() returned nil, want empty slice")
			}
			if ids(got) != tt.want {
				t.Errorf("Resolve() = %q, want %q", ids(got), tt.want)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	reg := testRegistry(t, 0, spotlight())
	spot, _ := reg.Action("spotlight")

	if first, second := ids(Resolve(spot, nil, reg)), ids(Resolve(spot, nil, reg)); first != second {
		t.Errorf("Resolve() not idempotent: %q vs %q", first, second)
	}
}

func TestResolve_AllFollowsReload(t *testing.T) {
	h := fleet.NewHandle(testRegistry(t, 0, recStart()))
	rec, _ := h.Current().Action("rec_start")

	next, _ := fleet.Build(fleet.RawConfig{
		Cameras: []fleet.RawCamera{{Name: "Camera D", ID: "d", URL: "http://d"}},
		Buttons: []fleet.RawButton{recStart()},
	})
	h.Swap(next)

	if got := ids(Resolve(rec, nil, h.Current())); got != "d" {
		t.Errorf("Resolve() after reload = %q, want d", got)
	}
}

// ─── RunAction ─────────────────────────────────────────────────────

func TestRunAction_PartialFailure(t *testing.T) {
	reg := testRegistry(t, 0, recStart())
	sessions := &fakeSessions{failures: map[string]error{
		"b": &session.ConnectError{DeviceID: "b", Stage: session.StageOpen, Err: context.DeadlineExceeded},
	}}
	live := &fakeLiveness{}
	sink := &recordingSink{}
	d := New(staticRegistry{reg}, sessions, live, sink, nil, Options{})

	res, err := d.RunAction(context.Background(), "rec_start", nil)
	if err != nil {
		t.Fatalf("RunAction() error = %v", err)
	}

	if res.OK {
		t.Error("Result.OK = true, want false")
	}
	if len(res.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(res.Results))
	}

	wantOK := []bool{true, false, true}
	for i, id := range []string{"a", "b", "c"} {
		r := res.Results[i]
		if r.DeviceID != id || r.OK != wantOK[i] {
			t.Errorf("Results[%d] = %s ok=%v, want %s ok=%v", i, r.DeviceID, r.OK, id, wantOK[i])
		}
	}
	if res.Results[1].Error == nil || *res.Results[1].Error != "timeout" {
		t.Errorf("Results[1].Error = %v, want timeout", res.Results[1].Error)
	}
	if res.Results[0].Error != nil {
		t.Errorf("Results[0].Error = %q, want nil", *res.Results[0].Error)
	}
	if res.ID == "" {
		t.Error("dispatch id is empty")
	}

	if live.marks["a"] != true || live.marks["b"] != false || live.marks["c"] != true {
		t.Errorf("liveness marks = %v", live.marks)
	}

	wantEvents := "action.result,action.result,action.result,action.completed"
	if got := strings.Join(sink.events, ","); got != wantEvents {
		t.Errorf("events = %s, want %s", got, wantEvents)
	}
}

func TestRunAction_CallErrors(t *testing.T) {
	reg := testRegistry(t, 0, recStart(), spotlight())
	sessions := &fakeSessions{}
	d := New(staticRegistry{reg}, sessions, nil, nil, nil, Options{})

	if _, err := d.RunAction(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action error = %v, want ErrUnknownAction", err)
	}
	if _, err := d.RunAction(context.Background(), "spotlight", []string{"b"}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("disjoint targets error = %v, want ErrNoTargets", err)
	}
	if len(sessions.calls) != 0 {
		t.Errorf("session calls = %v, want none before a call-level error", sessions.calls)
	}
}

func TestRunAction_Pacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	reg := testRegistry(t, int(delay/time.Millisecond), recStart())
	d := New(staticRegistry{reg}, &fakeSessions{}, nil, nil, nil, Options{})

	var sleeps []time.Duration
	d.sleep = func(dur time.Duration) {
		sleeps = append(sleeps, dur)
		time.Sleep(dur)
	}

	start := time.Now()
	res, err := d.RunAction(context.Background(), "rec_start", nil)
	if err != nil {
		t.Fatalf("RunAction() error = %v", err)
	}
	elapsed := time.Since(start)

	if !res.OK {
		t.Errorf("Result.OK = false, want true")
	}
	if len(sleeps) != 2 {
		t.Errorf("sleeps = %v, want 2 (between three devices)", sleeps)
	}
	if elapsed < 2*delay {
		t.Errorf("elapsed = %v, want at least %v", elapsed, 2*delay)
	}
}

func TestRunAction_HTTPCommandThroughSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "start" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad action"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg, _ := fleet.Build(fleet.RawConfig{
		Cameras: []fleet.RawCamera{{Name: "Cam", URL: srv.URL}},
		Buttons: []fleet.RawButton{
			{Label: "Good", Request: &fleet.RawRequest{Path: "/cgi", Params: map[string]any{"action": "start"}}},
			{Label: "Bad", Request: &fleet.RawRequest{Path: "/cgi", Params: map[string]any{"action": "explode"}}},
		},
	})
	d := New(staticRegistry{reg}, &fakeSessions{}, nil, nil, nil, Options{})

	res, err := d.RunAction(context.Background(), "good", nil)
	if err != nil {
		t.Fatalf("RunAction(good) error = %v", err)
	}
	if !res.OK || res.Results[0].StatusCode == nil || *res.Results[0].StatusCode != http.StatusNoContent {
		t.Errorf("good result = %+v", res.Results[0])
	}

	res, _ = d.RunAction(context.Background(), "bad", nil)
	r := res.Results[0]
	if r.OK || r.Error == nil || *r.Error != "HTTP 400: bad action" {
		t.Errorf("bad result = %+v", r)
	}
}

type panicCommand struct{}

func (panicCommand) Kind() string { return "panic" }
func (panicCommand) Execute(context.Context, fleet.Device, fleet.Surface) fleet.Outcome {
	panic("boom")
}

func TestRun_CommandPanicIsContained(t *testing.T) {
	reg := testRegistry(t, 0)
	action := fleet.ActionSpec{ID: "p", Targets: fleet.AllTargets(), Command: panicCommand{}}
	d := New(staticRegistry{reg}, &fakeSessions{}, nil, nil, nil, Options{})

	res, err := d.Run(context.Background(), reg, action, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OK || len(res.Results) != 3 {
		t.Errorf("Run() = %+v, want three failed results", res)
	}
}

func TestRunAction_IgnoresCallerCancellation(t *testing.T) {
	reg := testRegistry(t, 0, recStart())
	d := New(staticRegistry{reg}, &fakeSessions{}, nil, nil, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.RunAction(ctx, "rec_start", nil)
	if err != nil {
		t.Fatalf("RunAction() error = %v", err)
	}
	if !res.OK {
		t.Errorf("cancelled caller context should not abort the dispatch: %+v", res.Results)
	}
}

func TestRunAction_ClickNotFound(t *testing.T) {
	reg := testRegistry(t, 0, recStart())
	sessions := &clickFailSessions{}
	d := New(staticRegistry{reg}, sessions, nil, events.Discard{}, nil, Options{})

	res, _ := d.RunAction(context.Background(), "rec_start", []string{"a"})
	if len(res.Results) != 1 || res.Results[0].OK {
		t.Fatalf("Results = %+v, want one failure", res.Results)
	}
	if !strings.Contains(*res.Results[0].Error, "element not found") {
		t.Errorf("Error = %q", *res.Results[0].Error)
	}
}

type clickFailSessions struct{}

func (clickFailSessions) EnsureSurface(_ context.Context, dev fleet.Device, _ bool) (fleet.Surface, error) {
	return &fakeSurface{deviceID: dev.ID, clickErr: fleet.ErrElementNotFound}, nil
}
