// Package fleet provides the device registry for MultiCam Core.
//
// The registry is the validated, immutable set of cameras and actions
// ("buttons") built from the config file. A reload never edits a registry;
// it builds a new one and publishes it through a Handle.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                       │
//	│                                                              │
//	│  ┌──────────────┐    ┌──────────────┐    ┌──────────────┐    │
//	│  │    Decode    │    │    Build     │    │    Handle    │    │
//	│  │  (load.go)   │───▶│  (build.go)  │───▶│ (handle.go)  │    │
//	│  │              │    │              │    │              │    │
//	│  │ • YAML nodes │    │ • Defaults   │    │ • Snapshot   │    │
//	│  │ • Per entry  │    │ • Warnings   │    │ • Atomic swap│    │
//	│  └──────────────┘    └──────────────┘    └──────────────┘    │
//	└──────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: a camera with a base URL, GUI path, zoom and credentials
//   - ActionSpec: a labelled command with a target selection
//   - Command: HTTPCommand or ClickCommand, chosen when the config is built
//   - Warning: a skipped entry, or a fatal "could not read config" report
//
// # Degradation
//
// One malformed camera or button is skipped with a warning; the rest of
// the file still loads. Only an unreadable or unparsable file yields an
// empty registry, and then with exactly one fatal warning.
//
// # Usage
//
//	reg, warnings := fleet.LoadFile("configs/config.yaml")
//	for _, w := range warnings {
//	    log.Warn(w.String())
//	}
//	handle := fleet.NewHandle(reg)
//	for _, dev := range handle.Current().Devices() {
//	    fmt.Println(dev.ID, dev.GUIURL())
//	}
package fleet
