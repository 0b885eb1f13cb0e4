package fleet

import "fmt"

// Config sections a Warning can refer to.
const (
	SectionFile     = "file"
	SectionSettings = "settings"
	SectionCamera   = "camera"
	SectionButton   = "button"
)

// Warning reports a config problem found while building a registry.
//
// Non-fatal warnings mean one entry was skipped (or one setting ignored).
// A Fatal warning means the config could not be read at all and the
// registry that came with it is empty.
type Warning struct {
	Fatal   bool
	Section string
	Index   int // 1-based position within Section, 0 when not applicable
	Message string
}

// String formats the warning for logs and API responses.
func (w Warning) String() string {
	switch {
	case w.Fatal:
		return fmt.Sprintf("config error: %s", w.Message)
	case w.Index > 0:
		return fmt.Sprintf("skipping %s #%d: %s", w.Section, w.Index, w.Message)
	default:
		return fmt.Sprintf("%s: %s", w.Section, w.Message)
	}
}

// FatalWarning returns the first fatal warning, if any.
func FatalWarning(warnings []Warning) (Warning, bool) {
	for _, w := range warnings {
		if w.Fatal {
			return w, true
		}
	}
	return Warning{}, false
}

// WarningStrings formats a warning list for JSON output.
func WarningStrings(warnings []Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}
