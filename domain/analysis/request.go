package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Status tracks an analysis request through its lifecycle.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusQueued    Status = "QUEUED"
	StatusAnalyzing Status = "ANALYZING"
	StatusCompleted Status = "COMPLETED"
)

// AnalysisRequest asks for analysis of a single observable, or for processing
// of a new or updated root. An observable request becomes a result once a
// worker attaches its modified copy of the root.
type AnalysisRequest struct {
	ID         string        `json:"id"`
	Root       *RootAnalysis `json:"root"`
	Observable *Observable   `json:"observable,omitempty"`
	Type       *ModuleType   `json:"type,omitempty"`
	CacheKey   string        `json:"cache_key,omitempty"`
	Status     Status        `json:"status"`
	Owner      string        `json:"owner,omitempty"`

	// OriginalRootVersion is the root's version token at the time the request
	// was created.
	OriginalRootVersion string `json:"original_root_version,omitempty"`

	// Result is the worker's modified copy of the root, carrying the attached
	// analysis. Nil until the worker reports back.
	Result *RootAnalysis `json:"result,omitempty"`
}

// NewObservableRequest builds a request to run the module type against the
// observable inside the root.
func NewObservableRequest(root *RootAnalysis, o *Observable, t *ModuleType) *AnalysisRequest {
	return &AnalysisRequest{
		ID:                  uuid.New().String(),
		Root:                root,
		Observable:          o,
		Type:                t,
		CacheKey:            GenerateCacheKey(o, t),
		Status:              StatusNew,
		OriginalRootVersion: root.Version,
	}
}

// NewRootRequest builds a request to process a new or updated root.
func NewRootRequest(root *RootAnalysis) *AnalysisRequest {
	return &AnalysisRequest{
		ID:                  uuid.New().String(),
		Root:                root,
		Status:              StatusNew,
		OriginalRootVersion: root.Version,
	}
}

func (r *AnalysisRequest) String() string {
	kind := "root"
	switch {
	case r.IsResult():
		kind = "result"
	case r.IsObservableRequest():
		kind = "request"
	}
	var observable, amt string
	if r.Observable != nil {
		observable = r.Observable.Type + ":" + r.Observable.Value
	}
	if r.Type != nil {
		amt = r.Type.Name
	}
	return fmt.Sprintf("AnalysisRequest(%s,id=%s,root=%s,observable=%s,type=%s)", kind, r.ID, r.Root.UUID, observable, amt)
}

// IsObservableRequest reports whether this request targets a single
// observable.
func (r *AnalysisRequest) IsObservableRequest() bool {
	return r.Observable != nil
}

// IsRootRequest reports whether this request targets the root itself.
func (r *AnalysisRequest) IsRootRequest() bool {
	return r.Observable == nil
}

// IsResult reports whether the request carries an analysis result.
func (r *AnalysisRequest) IsResult() bool {
	return r.Result != nil
}

// IsCachable reports whether the result of this request should be cached.
func (r *AnalysisRequest) IsCachable() bool {
	return r.CacheKey != ""
}

// ResultObservable returns the instance of the target observable inside the
// worker's result root, the one carrying the attached analysis.
func (r *AnalysisRequest) ResultObservable() *Observable {
	if r.Result == nil || r.Observable == nil {
		return nil
	}
	if o := r.Result.GetObservable(r.Observable.UUID); o != nil {
		return o
	}
	return r.Result.FindObservable(r.Observable.Type, r.Observable.Value, r.Observable.Time)
}

// InitializeResult snapshots the root into Result. Workers record their
// analysis on the returned copy.
func (r *AnalysisRequest) InitializeResult() *RootAnalysis {
	r.Result = r.Root.Copy()
	return r.Result
}

// UnmarshalJSON decodes the request and re-points Observable at the instance
// stored inside Root, restoring the reference an encoded request loses.
func (r *AnalysisRequest) UnmarshalJSON(data []byte) error {
	type plain AnalysisRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = AnalysisRequest(p)
	if r.Observable == nil || r.Root == nil {
		return nil
	}
	if o := r.Root.GetObservable(r.Observable.UUID); o != nil {
		r.Observable = o
	} else if o := r.Root.FindObservable(r.Observable.Type, r.Observable.Value, r.Observable.Time); o != nil {
		r.Observable = o
	}
	return nil
}
