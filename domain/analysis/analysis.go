package analysis

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Analysis is the output of one module type for one observable. Details is an
// opaque payload: the core never parses it, stores it separately from the
// root record, and addresses it by the analysis UUID.
type Analysis struct {
	Taggable
	Detectable

	UUID    string      `json:"uuid"`
	Type    *ModuleType `json:"type,omitempty"`
	Summary string      `json:"summary,omitempty"`

	// ObservableIDs lists observables produced by this analysis. Every entry
	// resolves inside the enclosing root's observable store.
	ObservableIDs []string `json:"observables,omitempty"`

	// Details travels with the analysis between workers and the core but is
	// persisted in its own record, never inside the root JSON.
	Details json.RawMessage `json:"details,omitempty"`
}

// NewAnalysis builds an empty analysis produced by the given module type.
func NewAnalysis(t *ModuleType) *Analysis {
	return &Analysis{
		UUID: uuid.New().String(),
		Type: t,
	}
}

// SetDetails serializes v as the opaque details payload.
func (a *Analysis) SetDetails(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.Details = raw
	return nil
}

// DecodeDetails unmarshals the opaque details payload into v.
func (a *Analysis) DecodeDetails(v interface{}) error {
	if len(a.Details) == 0 {
		return nil
	}
	return json.Unmarshal(a.Details, v)
}

// HasDetails reports whether a details payload is attached in memory.
func (a *Analysis) HasDetails() bool {
	return len(a.Details) > 0
}

func (a *Analysis) addObservableID(id string) {
	a.ObservableIDs = appendUnique(a.ObservableIDs, id)
}

func (a *Analysis) clone() *Analysis {
	c := &Analysis{
		UUID:          a.UUID,
		Summary:       a.Summary,
		ObservableIDs: append([]string(nil), a.ObservableIDs...),
	}
	c.Tags = append([]string(nil), a.Tags...)
	c.DetectionPoints = append([]DetectionPoint(nil), a.DetectionPoints...)
	if a.Type != nil {
		t := *a.Type
		t.ObservableTypes = append([]string(nil), a.Type.ObservableTypes...)
		t.Directives = append([]string(nil), a.Type.Directives...)
		t.Dependencies = append([]string(nil), a.Type.Dependencies...)
		t.Tags = append([]string(nil), a.Type.Tags...)
		t.Modes = append([]string(nil), a.Type.Modes...)
		t.AdditionalCacheKeys = append([]string(nil), a.Type.AdditionalCacheKeys...)
		t.ExtendedVersion = append([]string(nil), a.Type.ExtendedVersion...)
		if a.Type.CacheTTL != nil {
			ttl := *a.Type.CacheTTL
			t.CacheTTL = &ttl
		}
		c.Type = &t
	}
	if len(a.Details) > 0 {
		c.Details = append(json.RawMessage(nil), a.Details...)
	}
	return c
}
