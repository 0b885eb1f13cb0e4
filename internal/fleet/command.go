package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	formContentType = "application/x-www-form-urlencoded"

	// maxDetailBytes bounds how much of a failed response body is kept.
	maxDetailBytes = 200
)

// ErrElementNotFound is returned by a Surface when a click target is absent.
var ErrElementNotFound = errors.New("fleet: element not found")

// Surface is the control surface of one live device session.
//
// Do sends a request through the session's authenticated transport. Click
// invokes a UI element by id; engines without a DOM return an error.
type Surface interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	Click(ctx context.Context, elementID string) error
}

// Outcome is the result of executing one command against one device.
type Outcome struct {
	OK         bool
	StatusCode int // 0 when no HTTP response was received
	Detail     string
}

// Command is the capability an action invokes on a device.
// Implementations must not panic and must honour ctx.
type Command interface {
	Kind() string
	Execute(ctx context.Context, dev Device, s Surface) Outcome
}

// HTTPCommand issues a templated request against the device's control plane.
// Any status below 400 counts as success.
type HTTPCommand struct {
	Method      string
	Path        string
	Params      url.Values
	Body        string
	ContentType string
}

// Kind implements Command.
func (HTTPCommand) Kind() string { return "http" }

// URL returns the absolute request URL for dev.
func (c HTTPCommand) URL(dev Device) string {
	u := dev.BaseURL + c.Path
	if len(c.Params) > 0 {
		sep := "?"
		if strings.Contains(c.Path, "?") {
			sep = "&"
		}
		u += sep + c.Params.Encode()
	}
	return u
}

// Execute implements Command.
func (c HTTPCommand) Execute(ctx context.Context, dev Device, s Surface) Outcome {
	var body io.Reader
	if c.Body != "" {
		body = strings.NewReader(c.Body)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL(dev), body)
	if err != nil {
		return Outcome{Detail: fmt.Sprintf("building request: %v", err)}
	}
	if c.ContentType != "" {
		req.Header.Set("Content-Type", c.ContentType)
	}

	resp, err := s.Do(ctx, req)
	if err != nil {
		return Outcome{Detail: ErrorDetail(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Outcome{OK: true, StatusCode: resp.StatusCode}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if text := strings.TrimSpace(validUTF8(snippet)); text != "" {
		detail += ": " + text
	}
	return Outcome{StatusCode: resp.StatusCode, Detail: detail}
}

// ClickCommand invokes a UI element on the device's loaded control surface.
// Success means the element was found and invoked.
type ClickCommand struct {
	ElementID string
}

// Kind implements Command.
func (ClickCommand) Kind() string { return "click" }

// Execute implements Command.
func (c ClickCommand) Execute(ctx context.Context, _ Device, s Surface) Outcome {
	if err := s.Click(ctx, c.ElementID); err != nil {
		return Outcome{Detail: ErrorDetail(err)}
	}
	return Outcome{OK: true}
}

// ErrorDetail renders err for a per-device result. Deadline expiry is
// reported as "timeout" regardless of which layer noticed it.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return "timeout"
	}
	return err.Error()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func validUTF8(b []byte) string {
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
