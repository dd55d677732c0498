// Package device holds the BLE session state for the link manager.
//
// The Registry is the single source of truth for everything the rest of
// the service reads: the devices seen in the current scan session, the
// connected set with each link's service inventory, the saved list, the
// keyed in-flight operations and the scanning, auto-pairing and adapter
// flags.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                         device                             │
//	│                                                            │
//	│  ┌──────────────────┐          ┌───────────────────────┐   │
//	│  │     Registry     │          │      SavedStore       │   │
//	│  │  (registry.go)   │          │   (repository.go)     │   │
//	│  │ • atomic sets    │          │ • JSON list, one key  │   │
//	│  │ • in-flight ops  │          │ • KVStore interface   │   │
//	│  │ • Subscribe      │          └──────────┬────────────┘   │
//	│  └────────┬─────────┘                     │                │
//	└───────────│───────────────────────────────│────────────────┘
//	            ▼                               ▼
//	   API / WebSocket / MQTT          SQLite kv_store table
//
// # Invariants
//
//   - A device ID appears at most once in the connected set.
//   - The saved list is unique by ID, append-only and never mutated.
//   - Within one scan session a device is recorded once, on first sighting.
//   - Connecting is derived from the in-flight map, never stored.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Subscribers are called
// after the registry lock is released, on the goroutine that made the
// change.
package device
