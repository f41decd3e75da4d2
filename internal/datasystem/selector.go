// Package datasystem contains the FDv2 data synchronization core: the
// change-set protocol types, the synchronizer/initializer contracts, and the
// coordinator that drives them against the data store.
package datasystem

import (
	"encoding/json"
	"fmt"
)

// Selector is an opaque cursor identifying how current the store's data is
// relative to the flag delivery service. Sources include it when reconnecting
// so the service can resume with an incremental transfer instead of a full
// one.
type Selector struct {
	state   string
	version int
	defined bool
}

// NoSelector returns the undefined selector, meaning "no sync position yet".
func NoSelector() Selector { return Selector{} }

// NewSelector constructs a defined selector from its wire fields.
func NewSelector(state string, version int) Selector {
	return Selector{state: state, version: version, defined: true}
}

// IsDefined reports whether this selector carries a sync position. A fresh
// store has an undefined selector.
func (s Selector) IsDefined() bool { return s.defined }

// State returns the opaque cursor string.
func (s Selector) State() string { return s.state }

// Version returns the payload version the cursor corresponds to.
func (s Selector) Version() int { return s.version }

func (s Selector) String() string {
	if !s.defined {
		return "Selector(none)"
	}
	return fmt.Sprintf("Selector(%s,%d)", s.state, s.version)
}

type selectorJSON struct {
	State   string `json:"state"`
	Version int    `json:"version"`
}

// MarshalJSON emits the wire form used by the payload-transferred event.
func (s Selector) MarshalJSON() ([]byte, error) {
	if !s.defined {
		return []byte("null"), nil
	}
	return json.Marshal(selectorJSON{State: s.state, Version: s.version})
}

// UnmarshalJSON parses the wire form; JSON null yields NoSelector.
func (s *Selector) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NoSelector()
		return nil
	}
	var raw selectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSelector(raw.State, raw.Version)
	return nil
}
