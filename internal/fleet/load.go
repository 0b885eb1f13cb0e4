package fleet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the top-level shape of the config file as far as the
// registry is concerned. Sections are kept as nodes so each entry can be
// decoded on its own.
type document struct {
	Settings yaml.Node `yaml:"settings"`
	Cameras  yaml.Node `yaml:"cameras"`
	Buttons  yaml.Node `yaml:"buttons"`
}

// LoadFile reads and builds the registry from the config file at path.
//
// If the file cannot be read or is not valid YAML, LoadFile returns an empty
// registry and exactly one fatal warning.
func LoadFile(path string) (*Registry, []Warning) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Empty(), []Warning{{
			Fatal:   true,
			Section: SectionFile,
			Message: fmt.Sprintf("reading %s: %v", path, err),
		}}
	}
	return LoadBytes(data)
}

// LoadBytes parses YAML and builds the registry.
func LoadBytes(data []byte) (*Registry, []Warning) {
	raw, err := Decode(data)
	if err != nil {
		return Empty(), []Warning{{
			Fatal:   true,
			Section: SectionFile,
			Message: err.Error(),
		}}
	}
	return Build(raw)
}

// Decode turns YAML into a RawConfig.
//
// Only a malformed document is an error. An entry that does not fit its
// schema is carried through with DecodeError set.
func Decode(data []byte) (RawConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RawConfig{}, fmt.Errorf("parsing config: %w", err)
	}

	var raw RawConfig

	if !isEmptyNode(doc.Settings) {
		if err := doc.Settings.Decode(&raw.Settings); err != nil {
			raw.Settings = RawSettings{DecodeError: err}
		}
	}

	cameras, err := sequence(doc.Cameras, "cameras")
	if err != nil {
		return RawConfig{}, err
	}
	for _, n := range cameras {
		var rc RawCamera
		if err := n.Decode(&rc); err != nil {
			rc = RawCamera{DecodeError: err}
		}
		raw.Cameras = append(raw.Cameras, rc)
	}

	buttons, err := sequence(doc.Buttons, "buttons")
	if err != nil {
		return RawConfig{}, err
	}
	for _, n := range buttons {
		var rb RawButton
		if err := n.Decode(&rb); err != nil {
			rb = RawButton{DecodeError: err}
		}
		raw.Buttons = append(raw.Buttons, rb)
	}

	return raw, nil
}

func sequence(n yaml.Node, name string) ([]*yaml.Node, error) {
	if isEmptyNode(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("parsing config: %s must be a list", name)
	}
	return n.Content, nil
}

func isEmptyNode(n yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}
