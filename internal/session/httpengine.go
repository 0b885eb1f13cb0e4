package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/icholy/digest"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

// HTTPEngine opens sessions that talk to the camera's control plane over
// plain HTTP(S). Each session gets its own cookie jar and an authenticating
// transport bound to the device's credentials.
type HTTPEngine struct {
	// Base is the underlying transport. Nil uses a clone of http.DefaultTransport.
	Base http.RoundTripper

	// InsecureSkipVerify accepts self-signed camera certificates.
	InsecureSkipVerify bool
}

// Name implements Engine.
func (e *HTTPEngine) Name() string { return "http" }

// Open implements Engine. No network I/O happens until Load.
func (e *HTTPEngine) Open(_ context.Context, dev fleet.Device) (Conn, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:       jar,
		Transport: AuthTransport(dev.Auth, e.base()),
		// Camera CGIs answer commands with redirects back to the UI; the
		// redirect status is the result, not something to follow.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &httpConn{dev: dev, client: client}, nil
}

func (e *HTTPEngine) base() http.RoundTripper {
	if e.Base != nil {
		return e.Base
	}
	return BaseTransport(e.InsecureSkipVerify)
}

// BaseTransport returns a clone of http.DefaultTransport that skips TLS
// verification when insecure is set. Every engine builds device clients on it.
func BaseTransport(insecure bool) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // cameras ship self-signed certificates
	}
	return t
}

// AuthTransport wraps base with the authentication scheme in creds.
func AuthTransport(creds fleet.Credentials, base http.RoundTripper) http.RoundTripper {
	switch creds.Type {
	case fleet.AuthDigest:
		return &digest.Transport{
			Username:  creds.Username,
			Password:  creds.Password,
			Transport: base,
		}
	case fleet.AuthBasic:
		return &basicTransport{username: creds.Username, password: creds.Password, base: base}
	default:
		return base
	}
}

// basicTransport adds preemptive Basic credentials to every request.
type basicTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(clone)
}

type httpConn struct {
	dev    fleet.Device
	client *http.Client
}

func (c *httpConn) Load(ctx context.Context) error {
	return c.fetchGUI(ctx)
}

func (c *httpConn) Reload(ctx context.Context) error {
	return c.fetchGUI(ctx)
}

// ApplyZoom is a no-op: a control-plane session has nothing to render.
func (c *httpConn) ApplyZoom(context.Context, float64) error {
	return nil
}

func (c *httpConn) Probe(ctx context.Context) error {
	return c.fetchGUI(ctx)
}

func (c *httpConn) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

func (c *httpConn) Click(context.Context, string) error {
	return ErrClickUnsupported
}

func (c *httpConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// fetchGUI requests the device's GUI page. Authentication rejections and
// server errors fail; redirects (typically to a login-protected index) pass.
func (c *httpConn) fetchGUI(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dev.GUIURL(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("GET %s: HTTP %d", c.dev.GUIPath, resp.StatusCode)
	}
	return nil
}
