package fleet

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RawConfig is the device portion of the config file after YAML decoding.
//
// Entries that failed to decode are still present with DecodeError set so
// that Build can report them in position.
type RawConfig struct {
	Settings RawSettings
	Cameras  []RawCamera
	Buttons  []RawButton
}

// RawSettings is the settings section.
type RawSettings struct {
	Port           *int     `yaml:"port"`
	CommandDelayMS *int     `yaml:"command_delay_ms"`
	Auth           *RawAuth `yaml:"auth"`

	DecodeError error `yaml:"-"`
}

// RawAuth is an auth block. Pointer fields distinguish "absent" from "empty".
type RawAuth struct {
	Type     *string `yaml:"type"`
	Username *string `yaml:"username"`
	Password *string `yaml:"password"`
}

// RawCamera is one entry of the cameras list.
type RawCamera struct {
	Name    string   `yaml:"name"`
	ID      string   `yaml:"id"`
	URL     string   `yaml:"url"`
	IP      string   `yaml:"ip"`
	GUIPath string   `yaml:"gui_path"`
	Zoom    *float64 `yaml:"zoom"`
	Auth    *RawAuth `yaml:"auth"`

	// Flat credentials from the older single-level layout.
	Username *string `yaml:"username"`
	Password *string `yaml:"password"`

	DecodeError error `yaml:"-"`
}

// RawButton is one entry of the buttons list.
type RawButton struct {
	Label   string      `yaml:"label"`
	ID      string      `yaml:"id"`
	Color   string      `yaml:"color"`
	Targets any         `yaml:"targets"`
	Request *RawRequest `yaml:"request"`
	Click   *RawClick   `yaml:"click"`

	DecodeError error `yaml:"-"`
}

// RawRequest is the HTTP command template of a button.
type RawRequest struct {
	Method string         `yaml:"method"`
	Path   string         `yaml:"path"`
	Params map[string]any `yaml:"params"`
	Data   any            `yaml:"data"`
}

// RawClick is the DOM-click command template of a button.
type RawClick struct {
	ElementID string `yaml:"element_id"`
}

const (
	defaultPort    = 8080
	defaultGUIPath = "/"
	defaultZoom    = 1.0
	defaultMethod  = "GET"
	defaultPath    = "/"
)

func defaultSettings() Settings {
	return Settings{
		Port:        defaultPort,
		DefaultAuth: Credentials{Type: AuthDigest},
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of non-alphanumerics to "-".
// An input with no usable characters yields "item".
func Slugify(s string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "item"
	}
	return slug
}

// Build validates raw config into a Registry.
//
// Build is pure: the same input always yields the same registry and the same
// warnings. Malformed entries are skipped with one warning each; Build never
// fails as a whole.
func Build(raw RawConfig) (*Registry, []Warning) {
	var warnings []Warning

	settings, sw := buildSettings(raw.Settings)
	warnings = append(warnings, sw...)

	reg := &Registry{
		settings:  settings,
		deviceIdx: make(map[string]int, len(raw.Cameras)),
		actionIdx: make(map[string]int, len(raw.Buttons)),
	}

	for i, rc := range raw.Cameras {
		dev, err := buildDevice(rc, settings.DefaultAuth)
		if err == nil {
			if _, dup := reg.deviceIdx[dev.ID]; dup {
				err = fmt.Errorf("duplicate id %q", dev.ID)
			}
		}
		if err != nil {
			warnings = append(warnings, Warning{Section: SectionCamera, Index: i + 1, Message: err.Error()})
			continue
		}
		reg.deviceIdx[dev.ID] = len(reg.devices)
		reg.devices = append(reg.devices, dev)
	}

	for i, rb := range raw.Buttons {
		act, err := buildAction(rb)
		if err == nil {
			if _, dup := reg.actionIdx[act.ID]; dup {
				err = fmt.Errorf("duplicate id %q", act.ID)
			}
		}
		if err != nil {
			warnings = append(warnings, Warning{Section: SectionButton, Index: i + 1, Message: err.Error()})
			continue
		}
		reg.actionIdx[act.ID] = len(reg.actions)
		reg.actions = append(reg.actions, act)
	}

	return reg, warnings
}

func buildSettings(rs RawSettings) (Settings, []Warning) {
	s := defaultSettings()
	if rs.DecodeError != nil {
		return s, []Warning{{Section: SectionSettings, Message: rs.DecodeError.Error()}}
	}

	var warnings []Warning
	if rs.Port != nil {
		s.Port = *rs.Port
	}
	if rs.CommandDelayMS != nil {
		if *rs.CommandDelayMS < 0 {
			warnings = append(warnings, Warning{Section: SectionSettings, Message: "command_delay_ms must not be negative, using 0"})
		} else {
			s.CommandDelay = time.Duration(*rs.CommandDelayMS) * time.Millisecond
		}
	}
	if rs.Auth != nil {
		creds, err := mergeAuth(s.DefaultAuth, rs.Auth)
		if err != nil {
			warnings = append(warnings, Warning{Section: SectionSettings, Message: err.Error()})
		} else {
			s.DefaultAuth = creds
		}
	}
	return s, warnings
}

func buildDevice(rc RawCamera, defaults Credentials) (Device, error) {
	if rc.DecodeError != nil {
		return Device{}, rc.DecodeError
	}

	name := strings.TrimSpace(rc.Name)
	if name == "" {
		return Device{}, missingField("name")
	}

	base, err := normaliseBaseURL(rc.URL, rc.IP)
	if err != nil {
		return Device{}, err
	}

	id := strings.TrimSpace(rc.ID)
	if id == "" {
		id = Slugify(name)
	}

	guiPath := strings.TrimSpace(rc.GUIPath)
	if guiPath == "" {
		guiPath = defaultGUIPath
	}
	if !strings.HasPrefix(guiPath, "/") {
		guiPath = "/" + guiPath
	}

	zoom := defaultZoom
	if rc.Zoom != nil {
		if *rc.Zoom <= 0 {
			return Device{}, fmt.Errorf("zoom must be positive, got %v", *rc.Zoom)
		}
		zoom = *rc.Zoom
	}

	flat := &RawAuth{Username: rc.Username, Password: rc.Password}
	creds, err := mergeAuth(defaults, flat)
	if err != nil {
		return Device{}, err
	}
	if rc.Auth != nil {
		creds, err = mergeAuth(creds, rc.Auth)
		if err != nil {
			return Device{}, err
		}
	}
	if creds.Username == "" || creds.Password == "" {
		creds = Credentials{Type: AuthNone}
	}

	return Device{
		ID:      id,
		Name:    name,
		BaseURL: base,
		GUIPath: guiPath,
		Zoom:    zoom,
		Auth:    creds,
	}, nil
}

// mergeAuth overlays the fields present in override onto base.
func mergeAuth(base Credentials, override *RawAuth) (Credentials, error) {
	out := base
	if override.Type != nil {
		t, ok := ParseAuthType(*override.Type)
		if !ok {
			return Credentials{}, fmt.Errorf("unsupported auth type %q", *override.Type)
		}
		out.Type = t
	}
	if override.Username != nil {
		out.Username = *override.Username
	}
	if override.Password != nil {
		out.Password = *override.Password
	}
	return out, nil
}

// normaliseBaseURL returns scheme://host[:port] with no trailing slash.
// A bare ip is accepted when url is absent and is assumed to speak http.
func normaliseBaseURL(rawURL, ip string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		if ip = strings.TrimSpace(ip); ip == "" {
			return "", missingField("url")
		}
		raw = "http://" + ip
	}
	raw = strings.TrimRight(raw, "/")

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: want http(s)://host[:port]", raw)
	}
	return raw, nil
}

func buildAction(rb RawButton) (ActionSpec, error) {
	if rb.DecodeError != nil {
		return ActionSpec{}, rb.DecodeError
	}

	label := strings.TrimSpace(rb.Label)
	if label == "" {
		return ActionSpec{}, missingField("label")
	}

	id := strings.TrimSpace(rb.ID)
	if id == "" {
		id = Slugify(label)
	}

	targets, err := parseTargets(rb.Targets)
	if err != nil {
		return ActionSpec{}, err
	}

	if rb.Request != nil && rb.Click != nil {
		return ActionSpec{}, fmt.Errorf("request and click are mutually exclusive")
	}

	var cmd Command
	switch {
	case rb.Click != nil:
		el := strings.TrimSpace(rb.Click.ElementID)
		if el == "" {
			return ActionSpec{}, missingField("click.element_id")
		}
		cmd = ClickCommand{ElementID: el}
	default:
		req := rb.Request
		if req == nil {
			req = &RawRequest{}
		}
		hc, err := buildHTTPCommand(*req)
		if err != nil {
			return ActionSpec{}, err
		}
		cmd = hc
	}

	return ActionSpec{
		ID:      id,
		Label:   label,
		Color:   strings.TrimSpace(rb.Color),
		Targets: targets,
		Command: cmd,
	}, nil
}

// parseTargets accepts nil, "all", a single name, or a list of names.
func parseTargets(v any) (Targets, error) {
	switch t := v.(type) {
	case nil:
		return AllTargets(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, targetsAll) {
			return AllTargets(), nil
		}
		return TargetList(s), nil
	case []any:
		names := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := scalarString(item)
			if !ok {
				return Targets{}, fmt.Errorf("targets entries must be strings")
			}
			if strings.EqualFold(s, targetsAll) {
				return AllTargets(), nil
			}
			if s != "" {
				names = append(names, s)
			}
		}
		return TargetList(names...), nil
	default:
		if s, ok := scalarString(t); ok {
			return TargetList(s), nil
		}
		return Targets{}, fmt.Errorf("targets must be \"all\", a string, or a list")
	}
}

func buildHTTPCommand(rr RawRequest) (HTTPCommand, error) {
	method := strings.ToUpper(strings.TrimSpace(rr.Method))
	if method == "" {
		method = defaultMethod
	}
	if strings.ContainsAny(method, " \t/") {
		return HTTPCommand{}, fmt.Errorf("invalid request method %q", rr.Method)
	}

	path := strings.TrimSpace(rr.Path)
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	params, err := toValues(rr.Params)
	if err != nil {
		return HTTPCommand{}, fmt.Errorf("request.params: %w", err)
	}

	cmd := HTTPCommand{Method: method, Path: path, Params: params}

	switch d := rr.Data.(type) {
	case nil:
	case string:
		cmd.Body = d
	case map[string]any:
		form, err := toValues(d)
		if err != nil {
			return HTTPCommand{}, fmt.Errorf("request.data: %w", err)
		}
		cmd.Body = form.Encode()
		cmd.ContentType = formContentType
	default:
		return HTTPCommand{}, fmt.Errorf("request.data must be a string or mapping")
	}

	return cmd, nil
}

// toValues converts a decoded YAML mapping into url.Values.
// List values become repeated keys. Keys are visited in sorted order.
func toValues(m map[string]any) (url.Values, error) {
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make(url.Values, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			for _, item := range v {
				s, ok := scalarString(item)
				if !ok {
					return nil, fmt.Errorf("%s: nested values are not supported", k)
				}
				vals.Add(k, s)
			}
		default:
			s, ok := scalarString(v)
			if !ok {
				return nil, fmt.Errorf("%s: nested values are not supported", k)
			}
			vals.Add(k, s)
		}
	}
	return vals, nil
}

// scalarString renders YAML scalars (string, number, bool, null) as text.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(s), true
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

func missingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}
