package ldmodel

import (
	"encoding/json"
	"fmt"
)

// UnmarshalFeatureFlag decodes a flag from JSON and runs preprocessing.
// All flag data entering the system should come through here rather than
// plain json.Unmarshal.
func UnmarshalFeatureFlag(data []byte) (FeatureFlag, error) {
	var f FeatureFlag
	if err := json.Unmarshal(data, &f); err != nil {
		return FeatureFlag{}, fmt.Errorf("invalid flag JSON: %w", err)
	}
	if f.Key == "" {
		return FeatureFlag{}, fmt.Errorf("flag JSON is missing a key")
	}
	PreprocessFlag(&f)
	return f, nil
}

// UnmarshalSegment decodes a segment from JSON and runs preprocessing.
func UnmarshalSegment(data []byte) (Segment, error) {
	var s Segment
	if err := json.Unmarshal(data, &s); err != nil {
		return Segment{}, fmt.Errorf("invalid segment JSON: %w", err)
	}
	if s.Key == "" {
		return Segment{}, fmt.Errorf("segment JSON is missing a key")
	}
	PreprocessSegment(&s)
	return s, nil
}

// FDv1AllData is the body of the legacy /sdk/latest-all endpoint: full flag
// and segment maps keyed by their own keys, with versions inline.
type FDv1AllData struct {
	Flags    map[string]FeatureFlag `json:"flags"`
	Segments map[string]Segment     `json:"segments"`
}

// UnmarshalFDv1AllData decodes a legacy full-payload body and preprocesses
// every item.
func UnmarshalFDv1AllData(data []byte) (FDv1AllData, error) {
	var all FDv1AllData
	if err := json.Unmarshal(data, &all); err != nil {
		return FDv1AllData{}, fmt.Errorf("invalid flag data payload: %w", err)
	}
	for k, f := range all.Flags {
		if f.Key == "" {
			f.Key = k
		}
		PreprocessFlag(&f)
		all.Flags[k] = f
	}
	for k, s := range all.Segments {
		if s.Key == "" {
			s.Key = k
		}
		PreprocessSegment(&s)
		all.Segments[k] = s
	}
	return all, nil
}
