package dispatch

import (
	"strings"

	"github.com/nerrad567/multicam-core/internal/fleet"
)

// Resolve computes the devices action must run against.
//
// The allowed set is every device when the action targets "all", otherwise
// the devices whose id or name matches a target entry case-insensitively.
// A non-empty requested list narrows the allowed set to those ids (exact
// match). The result keeps registry order and is empty, never nil, when
// nothing matches.
//
// Parameters:
//   - action: The action whose targets are resolved
//   - requested: Caller-supplied device ids; nil or empty means no narrowing
//   - reg: The registry snapshot to resolve against
//
// Example:
//
//	devices := dispatch.Resolve(action, []string{"cam-b", "cam-c"}, handle.Current())
func Resolve(action fleet.ActionSpec, requested []string, reg *fleet.Registry) []fleet.Device {
	devices := reg.Devices()

	allowed := devices
	if !action.Targets.IsAll() {
		want := make(map[string]struct{})
		for _, n := range action.Targets.Names() {
			want[strings.ToLower(n)] = struct{}{}
		}
		allowed = make([]fleet.Device, 0, len(want))
		for _, d := range devices {
			_, byID := want[strings.ToLower(d.ID)]
			_, byName := want[strings.ToLower(d.Name)]
			if byID || byName {
				allowed = append(allowed, d)
			}
		}
	}

	if len(requested) == 0 {
		if allowed == nil {
			return []fleet.Device{}
		}
		return allowed
	}

	ids := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		ids[id] = struct{}{}
	}
	out := make([]fleet.Device, 0, len(allowed))
	for _, d := range allowed {
		if _, ok := ids[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}
