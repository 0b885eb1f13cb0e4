// Package browser provides a DOM-automation session engine backed by Chrome.
//
// Every device gets its own tab, and HTTP auth challenges in that tab are
// answered with that device's credentials only. One Chrome process is
// started lazily on the first Open and shared by all tabs.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"

	"github.com/nerrad567/multicam-core/internal/fleet"
	"github.com/nerrad567/multicam-core/internal/session"
)

// ErrClosed is returned by Open after the engine has been closed.
var ErrClosed = errors.New("browser: engine closed")

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures the Chrome process.
type Options struct {
	Headless bool
	ExecPath string // empty lets chromedp find Chrome on PATH

	// InsecureSkipVerify accepts self-signed camera certificates, both in
	// Chrome and in the per-tab control-plane client.
	InsecureSkipVerify bool
}

// runFunc executes chromedp actions. chromedp.Run outside tests.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Engine implements session.Engine with Chrome tabs.
type Engine struct {
	opts   Options
	logger Logger

	start func() (context.Context, error)
	runFn runFunc

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// New creates a browser engine. Chrome is not started until the first Open.
func New(opts Options, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	e := &Engine{opts: opts, logger: logger, runFn: chromedp.Run}
	e.start = e.browser
	return e
}

// Name implements session.Engine.
func (e *Engine) Name() string { return "browser" }

// allocatorOptions returns the Chrome flags for opts.
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("ignore-certificate-errors", opts.InsecureSkipVerify),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// browser returns the shared browser context, starting Chrome if needed.
func (e *Engine) browser() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return e.browserCtx, nil
	}
	e.shutdownLocked()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(e.opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	e.allocCtx, e.allocCancel = allocCtx, allocCancel
	e.browserCtx, e.browserCancel = browserCtx, browserCancel
	return browserCtx, nil
}

// Open implements session.Engine. The new tab is blank until Load.
//
// The first Run attaches the tab's target, whose event loop lives as long
// as the context passed to that Run. It therefore runs on the tab context
// itself; ctx only bounds how long Open waits for it.
func (e *Engine) Open(ctx context.Context, dev fleet.Device) (session.Conn, error) {
	bctx, err := e.start()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(bctx)
	c := &tab{
		dev:    dev,
		ctx:    tabCtx,
		cancel: tabCancel,
		runFn:  e.runFn,
		logger: e.logger,
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		tabCancel()
		return nil, err
	}
	c.client = &http.Client{
		Jar:       jar,
		Transport: session.AuthTransport(dev.Auth, session.BaseTransport(e.opts.InsecureSkipVerify)),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var actions []chromedp.Action
	if dev.Auth.Type != fleet.AuthNone {
		c.listenForAuth()
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	errc := make(chan error, 1)
	go func() { errc <- e.runFn(tabCtx, actions...) }()

	select {
	case err := <-errc:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("opening tab: %w", err)
		}
		return c, nil
	case <-ctx.Done():
		tabCancel()
		<-errc
		return nil, ctx.Err()
	}
}

// Close shuts Chrome down. Open fails afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.shutdownLocked()
	return nil
}

func (e *Engine) shutdownLocked() {
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel, e.browserCtx = nil, nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel, e.allocCtx = nil, nil
	}
}

// tab is one device's session: a Chrome tab plus an HTTP client carrying
// the same credentials for control-plane requests.
type tab struct {
	dev    fleet.Device
	ctx    context.Context
	cancel context.CancelFunc
	client *http.Client
	runFn  runFunc
	logger Logger
}

// listenForAuth answers HTTP auth challenges with the device credentials and
// lets every other paused request continue. Handlers must not block the
// event loop, so each reply runs in its own goroutine.
func (t *tab) listenForAuth() {
	creds := t.dev.Auth
	chromedp.ListenTarget(t.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go t.exec(fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.Username,
				Password: creds.Password,
			}))
		case *fetch.EventRequestPaused:
			go t.exec(fetch.ContinueRequest(ev.RequestID))
		}
	})
}

func (t *tab) exec(a chromedp.Action) {
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return
	}
	if err := a.Do(cdp.WithExecutor(t.ctx, c.Target)); err != nil && t.ctx.Err() == nil {
		t.logger.Debug("fetch continuation failed", "device_id", t.dev.ID, "error", err)
	}
}

// bind derives a context from the tab that also honours ctx's deadline
// and cancellation. Cancelling it does not close the tab.
func (t *tab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(t.ctx)
	if d, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		rctx, dcancel = context.WithDeadline(rctx, d)
		inner := cancel
		cancel = func() { dcancel(); inner() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return rctx, func() { stop(); cancel() }
}

func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, done := t.bind(ctx)
	defer done()
	err := t.runFn(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *tab) Load(ctx context.Context) error {
	return t.run(ctx, chromedp.Navigate(t.dev.GUIURL()))
}

func (t *tab) Reload(ctx context.Context) error {
	return t.run(ctx, chromedp.Reload())
}

func (t *tab) ApplyZoom(ctx context.Context, zoom float64) error {
	return t.run(ctx, chromedp.Evaluate(zoomScript(zoom), nil))
}

func (t *tab) Probe(ctx context.Context) error {
	var one int
	return t.run(ctx, chromedp.Evaluate("1", &one))
}

func (t *tab) Click(ctx context.Context, elementID string) error {
	var found bool
	if err := t.run(ctx, chromedp.Evaluate(clickScript(elementID), &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", fleet.ErrElementNotFound, elementID)
	}
	return nil
}

func (t *tab) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

func (t *tab) Close() error {
	t.cancel()
	t.client.CloseIdleConnections()
	return nil
}

func zoomScript(zoom float64) string {
	return "document.body.style.zoom = " + strconv.Quote(strconv.FormatFloat(zoom, 'f', -1, 64))
}

// clickScript clicks the element with the given id and evaluates to
// whether it was found.
func clickScript(elementID string) string {
	id, _ := json.Marshal(elementID)
	return `(function(){var el=document.getElementById(` + string(id) +
		`);if(!el){return false;}el.click();return true;})()`
}
