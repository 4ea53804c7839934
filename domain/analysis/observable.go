package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Observable is a single indicator inside a root analysis. The pair
// (Type, Value) is its identity for caching and deduplication; UUID is its
// identity inside the owning root's observable store.
type Observable struct {
	Taggable
	Detectable

	UUID             string              `json:"uuid"`
	Type             string              `json:"type"`
	Value            string              `json:"value"`
	Time             *time.Time          `json:"time,omitempty"`
	Directives       []string            `json:"directives,omitempty"`
	Redirection      string              `json:"redirection,omitempty"`
	Links            []string            `json:"links,omitempty"`
	LimitedAnalysis  []string            `json:"limited_analysis,omitempty"`
	ExcludedAnalysis []string            `json:"excluded_analysis,omitempty"`
	Relationships    map[string][]string `json:"relationships,omitempty"`
	GroupingTarget   bool                `json:"grouping_target,omitempty"`

	// Analysis holds completed analysis keyed by module type name.
	Analysis map[string]*Analysis `json:"analysis,omitempty"`

	// RequestTracking maps module type name to the in-flight request id.
	RequestTracking map[string]string `json:"request_tracking,omitempty"`
}

// manualDirectivePrefix marks a directive that requests a specific module
// type by name.
const manualDirectivePrefix = "manual:"

// NewObservable builds an observable of the given type and value.
func NewObservable(otype, value string) *Observable {
	return &Observable{
		UUID:  uuid.New().String(),
		Type:  otype,
		Value: value,
	}
}

// WithTime attaches an observation timestamp. The timestamp participates in
// the cache key, so timed observables never share cached results with
// untimed ones.
func (o *Observable) WithTime(t time.Time) *Observable {
	o.Time = &t
	return o
}

// HasDirective reports whether the directive is present.
func (o *Observable) HasDirective(directive string) bool {
	return contains(o.Directives, directive)
}

// AddDirective appends the directive if not already present.
func (o *Observable) AddDirective(directive string) {
	o.Directives = appendUnique(o.Directives, directive)
}

// RequestAnalysis asks for the module type to run against this observable on
// the next pass, overriding mode and type gating. This is the only way to
// trigger a manual module type.
func (o *Observable) RequestAnalysis(t *ModuleType) {
	o.AddDirective(manualDirectivePrefix + t.Name)
}

// AnalysisRequested reports whether analysis by the named module type was
// explicitly requested.
func (o *Observable) AnalysisRequested(amtName string) bool {
	return o.HasDirective(manualDirectivePrefix + amtName)
}

// AddLink records a graph edge to another observable in the same root.
func (o *Observable) AddLink(target string) {
	o.Links = appendUnique(o.Links, target)
}

// LimitAnalysis restricts this observable to the named module type.
func (o *Observable) LimitAnalysis(amtName string) {
	o.LimitedAnalysis = appendUnique(o.LimitedAnalysis, amtName)
}

// ExcludeAnalysis forbids the named module type for this observable.
func (o *Observable) ExcludeAnalysis(amtName string) {
	o.ExcludedAnalysis = appendUnique(o.ExcludedAnalysis, amtName)
}

// AddRelationship records a labeled edge to another observable.
func (o *Observable) AddRelationship(label, target string) {
	if o.Relationships == nil {
		o.Relationships = map[string][]string{}
	}
	o.Relationships[label] = appendUnique(o.Relationships[label], target)
}

// HasRelationship reports whether the labeled edge to target exists.
func (o *Observable) HasRelationship(label, target string) bool {
	return contains(o.Relationships[label], target)
}

// GetAnalysis returns the analysis produced by the named module type, or nil.
func (o *Observable) GetAnalysis(amtName string) *Analysis {
	return o.Analysis[amtName]
}

// AnalysisCompleted reports whether the module type has produced analysis
// for this observable.
func (o *Observable) AnalysisCompleted(t *ModuleType) bool {
	return o.GetAnalysis(t.Name) != nil
}

// TrackAnalysisRequest records the in-flight request id for a module type.
func (o *Observable) TrackAnalysisRequest(amtName, requestID string) {
	if o.RequestTracking == nil {
		o.RequestTracking = map[string]string{}
	}
	o.RequestTracking[amtName] = requestID
}

// AnalysisRequestID returns the tracked in-flight request id for a module
// type, or the empty string.
func (o *Observable) AnalysisRequestID(amtName string) string {
	return o.RequestTracking[amtName]
}

// Matches reports identity with another observable: same type, value and
// observation time.
func (o *Observable) Matches(other *Observable) bool {
	if o.Type != other.Type || o.Value != other.Value {
		return false
	}
	if (o.Time == nil) != (other.Time == nil) {
		return false
	}
	return o.Time == nil || o.Time.Equal(*other.Time)
}

// clone returns a deep copy with an empty analysis map. Analyses are copied
// separately so their produced observables land in the destination store.
func (o *Observable) clone() *Observable {
	c := &Observable{
		UUID:             o.UUID,
		Type:             o.Type,
		Value:            o.Value,
		Directives:       append([]string(nil), o.Directives...),
		Redirection:      o.Redirection,
		Links:            append([]string(nil), o.Links...),
		LimitedAnalysis:  append([]string(nil), o.LimitedAnalysis...),
		ExcludedAnalysis: append([]string(nil), o.ExcludedAnalysis...),
		GroupingTarget:   o.GroupingTarget,
	}
	c.Tags = append([]string(nil), o.Tags...)
	c.DetectionPoints = append([]DetectionPoint(nil), o.DetectionPoints...)
	if o.Time != nil {
		t := *o.Time
		c.Time = &t
	}
	if o.Relationships != nil {
		c.Relationships = make(map[string][]string, len(o.Relationships))
		for label, targets := range o.Relationships {
			c.Relationships[label] = append([]string(nil), targets...)
		}
	}
	if o.RequestTracking != nil {
		c.RequestTracking = make(map[string]string, len(o.RequestTracking))
		for amt, id := range o.RequestTracking {
			c.RequestTracking[amt] = id
		}
	}
	return c
}
