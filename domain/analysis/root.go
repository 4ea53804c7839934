package analysis

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RootAnalysis is the top-level container for one ingestion event: the
// observables produced from it, the analysis graph grown by module workers,
// and the alert disposition. Version is an opaque concurrency token minted by
// the root store on every successful update.
type RootAnalysis struct {
	Analysis

	Tool                    string                     `json:"tool,omitempty"`
	ToolInstance            string                     `json:"tool_instance,omitempty"`
	AlertType               string                     `json:"alert_type,omitempty"`
	Description             string                     `json:"description,omitempty"`
	EventTime               *time.Time                 `json:"event_time,omitempty"`
	Name                    string                     `json:"name,omitempty"`
	State                   map[string]json.RawMessage `json:"state,omitempty"`
	AnalysisMode            string                     `json:"analysis_mode,omitempty"`
	Queue                   string                     `json:"queue,omitempty"`
	Instructions            string                     `json:"instructions,omitempty"`
	Version                 string                     `json:"version,omitempty"`
	Expires                 bool                       `json:"expires,omitempty"`
	AnalysisCancelled       bool                       `json:"analysis_cancelled,omitempty"`
	AnalysisCancelledReason string                     `json:"analysis_cancelled_reason,omitempty"`

	// ObservableStore holds every observable reachable from this root,
	// keyed by observable UUID.
	ObservableStore map[string]*Observable `json:"observable_store,omitempty"`
}

// NewRootAnalysis builds an empty root with a fresh UUID.
func NewRootAnalysis() *RootAnalysis {
	r := &RootAnalysis{
		ObservableStore: map[string]*Observable{},
	}
	r.Analysis.UUID = uuid.New().String()
	return r
}

// recordObservable stores the observable, returning the stored instance. An
// observable with the same identity (type, value, time) is reused instead of
// inserted.
func (r *RootAnalysis) recordObservable(o *Observable) *Observable {
	if existing := r.FindObservable(o.Type, o.Value, o.Time); existing != nil {
		return existing
	}
	if r.ObservableStore == nil {
		r.ObservableStore = map[string]*Observable{}
	}
	r.ObservableStore[o.UUID] = o
	return o
}

// AddObservable records the observable as a root-level observable.
func (r *RootAnalysis) AddObservable(o *Observable) *Observable {
	stored := r.recordObservable(o)
	r.addObservableID(stored.UUID)
	return stored
}

// NewObservable creates and records a root-level observable of the given type
// and value.
func (r *RootAnalysis) NewObservable(otype, value string) *Observable {
	return r.AddObservable(NewObservable(otype, value))
}

// AddAnalysisObservable records an observable produced by the analysis. The
// observable lands in the store and is linked from the analysis only.
func (r *RootAnalysis) AddAnalysisObservable(a *Analysis, o *Observable) *Observable {
	stored := r.recordObservable(o)
	a.addObservableID(stored.UUID)
	return stored
}

// GetObservable returns the observable with the given UUID, or nil.
func (r *RootAnalysis) GetObservable(id string) *Observable {
	return r.ObservableStore[id]
}

// FindObservable returns the stored observable matching the identity
// (type, value, time), or nil.
func (r *RootAnalysis) FindObservable(otype, value string, t *time.Time) *Observable {
	probe := &Observable{Type: otype, Value: value, Time: t}
	for _, o := range r.AllObservables() {
		if o.Matches(probe) {
			return o
		}
	}
	return nil
}

// AllObservables returns every stored observable in a stable order.
func (r *RootAnalysis) AllObservables() []*Observable {
	ids := make([]string, 0, len(r.ObservableStore))
	for id := range r.ObservableStore {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]*Observable, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.ObservableStore[id])
	}
	return result
}

// AllAnalyses returns every analysis attached to any stored observable.
func (r *RootAnalysis) AllAnalyses() []*Analysis {
	var result []*Analysis
	for _, o := range r.AllObservables() {
		names := make([]string, 0, len(o.Analysis))
		for name := range o.Analysis {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result = append(result, o.Analysis[name])
		}
	}
	return result
}

// AddAnalysis attaches the analysis to the observable, recording the source
// linkage and registering any produced observables that are not yet stored.
func (r *RootAnalysis) AddAnalysis(o *Observable, a *Analysis) *Analysis {
	if a.Type == nil {
		return nil
	}
	if o.Analysis == nil {
		o.Analysis = map[string]*Analysis{}
	}
	o.Analysis[a.Type.Name] = a
	return a
}

// HasDetections reports whether any detection point exists on the root, any
// observable or any analysis.
func (r *RootAnalysis) HasDetections() bool {
	if r.HasDetectionPoints() {
		return true
	}
	for _, o := range r.ObservableStore {
		if o.HasDetectionPoints() {
			return true
		}
		for _, a := range o.Analysis {
			if a.HasDetectionPoints() {
				return true
			}
		}
	}
	return false
}

// AnalysisCompleted reports whether the module type already produced analysis
// for the observable identity inside this root.
func (r *RootAnalysis) AnalysisCompleted(o *Observable, t *ModuleType) bool {
	local := r.FindObservable(o.Type, o.Value, o.Time)
	return local != nil && local.GetAnalysis(t.Name) != nil
}

// AnalysisTracked reports whether an analysis request for the observable and
// module type is already tracked inside this root.
func (r *RootAnalysis) AnalysisTracked(o *Observable, t *ModuleType) bool {
	local := r.FindObservable(o.Type, o.Value, o.Time)
	return local != nil && local.AnalysisRequestID(t.Name) != ""
}

// AllAnalysisCompleted reports whether every requested analysis is present:
// no observable tracks a request whose analysis has not landed yet.
func (r *RootAnalysis) AllAnalysisCompleted() bool {
	for _, o := range r.ObservableStore {
		for amtName := range o.RequestTracking {
			if o.GetAnalysis(amtName) == nil {
				return false
			}
		}
	}
	return true
}

// Copy returns a deep copy through the canonical JSON encoding, the same
// round trip a request takes across the wire.
func (r *RootAnalysis) Copy() *RootAnalysis {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var c RootAnalysis
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

// MarshalStripped returns the canonical persisted encoding of the root with
// every details payload removed. Details live in sibling records keyed by
// analysis UUID.
func (r *RootAnalysis) MarshalStripped() ([]byte, error) {
	c := r.Copy()
	if c == nil {
		return json.Marshal(r)
	}
	c.Analysis.Details = nil
	for _, o := range c.ObservableStore {
		for _, a := range o.Analysis {
			a.Details = nil
		}
	}
	return json.Marshal(c)
}

// DetailsPayloads returns every details payload in the root keyed by
// analysis UUID. The root's own details are keyed by the root UUID.
func (r *RootAnalysis) DetailsPayloads() map[string]json.RawMessage {
	payloads := map[string]json.RawMessage{}
	if len(r.Analysis.Details) > 0 {
		payloads[r.UUID] = r.Analysis.Details
	}
	for _, o := range r.ObservableStore {
		for _, a := range o.Analysis {
			if len(a.Details) > 0 {
				payloads[a.UUID] = a.Details
			}
		}
	}
	return payloads
}

// ApplyMerge merges the mergeable properties of target into this root. Both
// roots must share a UUID; merging unrelated roots is refused.
func (r *RootAnalysis) ApplyMerge(target *RootAnalysis) *RootAnalysis {
	if r.UUID != target.UUID {
		return nil
	}

	r.mergeTags(&target.Taggable)
	r.mergeDetections(&target.Detectable)

	for _, src := range target.AllObservables() {
		var stored *Observable
		if existing := r.FindObservable(src.Type, src.Value, src.Time); existing != nil {
			r.mergeObservable(existing, src, target)
			stored = existing
		} else {
			stored = r.importObservable(src, target, map[string]bool{})
		}
		if contains(target.ObservableIDs, src.UUID) {
			r.addObservableID(stored.UUID)
		}
	}

	r.AnalysisMode = target.AnalysisMode
	r.Queue = target.Queue
	r.Description = target.Description
	return r
}

// MergeResult merges a worker's result into this root: everything the result
// observable carries lands on dst, produced observables are imported into the
// store, and root-level tags, detections and cancellation are carried over.
// dst must be an observable of this root; resultObs lives in resultRoot.
func (r *RootAnalysis) MergeResult(dst, resultObs *Observable, resultRoot *RootAnalysis) {
	r.mergeTags(&resultRoot.Taggable)
	r.mergeDetections(&resultRoot.Detectable)
	if resultRoot.AnalysisCancelled && !r.AnalysisCancelled {
		r.AnalysisCancelled = true
		r.AnalysisCancelledReason = resultRoot.AnalysisCancelledReason
	}
	r.mergeObservable(dst, resultObs, resultRoot)
}

// mergeObservable merges every mergeable property of src into dst, importing
// referenced observables from srcRoot as needed.
func (r *RootAnalysis) mergeObservable(dst, src *Observable, srcRoot *RootAnalysis) {
	dst.mergeTags(&src.Taggable)
	dst.mergeDetections(&src.Detectable)

	for _, directive := range src.Directives {
		dst.AddDirective(directive)
	}

	if src.Redirection != "" {
		r.resolveReference(src.Redirection, srcRoot)
		dst.Redirection = src.Redirection
	}

	for _, link := range src.Links {
		r.resolveReference(link, srcRoot)
		dst.AddLink(link)
	}

	for _, amt := range src.LimitedAnalysis {
		dst.LimitAnalysis(amt)
	}

	for _, amt := range src.ExcludedAnalysis {
		dst.ExcludeAnalysis(amt)
	}

	for label, targets := range src.Relationships {
		for _, target := range targets {
			r.resolveReference(target, srcRoot)
			dst.AddRelationship(label, target)
		}
	}

	if src.GroupingTarget {
		dst.GroupingTarget = true
	}

	for amt, id := range src.RequestTracking {
		if dst.AnalysisRequestID(amt) == "" {
			dst.TrackAnalysisRequest(amt, id)
		}
	}

	names := make([]string, 0, len(src.Analysis))
	for name := range src.Analysis {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srcAnalysis := src.Analysis[name]
		if existing := dst.GetAnalysis(name); existing != nil {
			r.mergeAnalysis(existing, srcAnalysis, srcRoot)
		} else {
			r.importAnalysis(dst, srcAnalysis, srcRoot)
		}
	}
}

// mergeAnalysis merges tags, detections and produced observables of src into
// dst.
func (r *RootAnalysis) mergeAnalysis(dst, src *Analysis, srcRoot *RootAnalysis) {
	dst.mergeTags(&src.Taggable)
	dst.mergeDetections(&src.Detectable)

	for _, id := range src.ObservableIDs {
		srcObservable := srcRoot.GetObservable(id)
		if srcObservable == nil {
			continue
		}
		if existing := r.FindObservable(srcObservable.Type, srcObservable.Value, srcObservable.Time); existing != nil {
			r.mergeObservable(existing, srcObservable, srcRoot)
			dst.addObservableID(existing.UUID)
		} else {
			imported := r.importObservable(srcObservable, srcRoot, map[string]bool{})
			dst.addObservableID(imported.UUID)
		}
	}
}

// importAnalysis deep-copies an analysis produced elsewhere onto dst,
// importing its produced observables into this root's store.
func (r *RootAnalysis) importAnalysis(dst *Observable, src *Analysis, srcRoot *RootAnalysis) *Analysis {
	c := src.clone()
	for _, id := range src.ObservableIDs {
		if srcObservable := srcRoot.GetObservable(id); srcObservable != nil {
			r.importObservable(srcObservable, srcRoot, map[string]bool{})
		}
	}
	r.AddAnalysis(dst, c)
	return c
}

// importObservable deep-copies an observable and everything it references
// into this root's store. The visited set breaks link cycles.
func (r *RootAnalysis) importObservable(src *Observable, srcRoot *RootAnalysis, visited map[string]bool) *Observable {
	if visited[src.UUID] {
		if existing := r.GetObservable(src.UUID); existing != nil {
			return existing
		}
	}
	visited[src.UUID] = true

	if existing := r.GetObservable(src.UUID); existing != nil {
		return existing
	}

	c := src.clone()
	if r.ObservableStore == nil {
		r.ObservableStore = map[string]*Observable{}
	}
	r.ObservableStore[c.UUID] = c

	// pull in everything the observable points at
	for _, link := range src.Links {
		if target := srcRoot.GetObservable(link); target != nil {
			r.importObservable(target, srcRoot, visited)
		}
	}
	if src.Redirection != "" {
		if target := srcRoot.GetObservable(src.Redirection); target != nil {
			r.importObservable(target, srcRoot, visited)
		}
	}
	for _, targets := range src.Relationships {
		for _, id := range targets {
			if target := srcRoot.GetObservable(id); target != nil {
				r.importObservable(target, srcRoot, visited)
			}
		}
	}

	names := make([]string, 0, len(src.Analysis))
	for name := range src.Analysis {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srcAnalysis := src.Analysis[name]
		c.Analysis = ensureAnalysisMap(c.Analysis)
		c.Analysis[name] = srcAnalysis.clone()
		for _, id := range srcAnalysis.ObservableIDs {
			if target := srcRoot.GetObservable(id); target != nil {
				r.importObservable(target, srcRoot, visited)
			}
		}
	}
	return c
}

// resolveReference ensures the referenced observable exists in this root,
// importing it from srcRoot when missing.
func (r *RootAnalysis) resolveReference(id string, srcRoot *RootAnalysis) {
	if r.GetObservable(id) != nil || srcRoot == nil {
		return
	}
	if src := srcRoot.GetObservable(id); src != nil {
		r.importObservable(src, srcRoot, map[string]bool{})
	}
}

func ensureAnalysisMap(m map[string]*Analysis) map[string]*Analysis {
	if m == nil {
		return map[string]*Analysis{}
	}
	return m
}
