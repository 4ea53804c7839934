// Package events defines the lifecycle event names published by the core and
// the envelope they travel in. Every publicly observable state change fires
// exactly one of these.
package events

import "encoding/json"

// Root analysis lifecycle.
const (
	RootNew       = "/core/analysis/root/new"
	RootModified  = "/core/analysis/root/modified"
	RootExpired   = "/core/analysis/root/expired"
	RootDeleted   = "/core/analysis/root/deleted"
	RootCompleted = "/core/analysis/root/completed"
)

// Analysis details lifecycle.
const (
	DetailsNew      = "/core/analysis/details/new"
	DetailsModified = "/core/analysis/details/modified"
	DetailsDeleted  = "/core/analysis/details/deleted"
)

// Alerting.
const (
	Alert                   = "/core/alert/new"
	AlertSystemRegistered   = "/core/alert/system/registered"
	AlertSystemUnregistered = "/core/alert/system/unregistered"
)

// Analysis module type registry.
const (
	AMTNew      = "/core/module/new"
	AMTModified = "/core/module/modified"
	AMTDeleted  = "/core/module/deleted"
)

// Analysis request tracking.
const (
	ARNew     = "/core/request/new"
	ARDeleted = "/core/request/deleted"
	ARExpired = "/core/request/expired"
)

// Result cache.
const (
	CacheNew = "/core/cache/new"
	CacheHit = "/core/cache/hit"
)

// Runtime configuration.
const (
	ConfigSet    = "/core/config/set"
	ConfigDelete = "/core/config/delete"
)

// Content storage.
const (
	StorageNew     = "/core/storage/new"
	StorageDeleted = "/core/storage/deleted"
)

// Work queues.
const (
	WorkQueueNew     = "/core/work/queue/new"
	WorkQueueDeleted = "/core/work/queue/deleted"
	WorkAdd          = "/core/work/add"
	WorkRemove       = "/core/work/remove"
	WorkAssigned     = "/core/work/assigned"
)

// Request processor phases.
const (
	ProcessingRequestObservable = "/core/processing/request/observable"
	ProcessingRequestRoot       = "/core/processing/request/root"
	ProcessingRequestResult     = "/core/processing/request/result"
)

// AllNames lists every event name, for subscribers that observe the whole
// lifecycle.
func AllNames() []string {
	return []string{
		RootNew, RootModified, RootExpired, RootDeleted, RootCompleted,
		DetailsNew, DetailsModified, DetailsDeleted,
		Alert, AlertSystemRegistered, AlertSystemUnregistered,
		AMTNew, AMTModified, AMTDeleted,
		ARNew, ARDeleted, ARExpired,
		CacheNew, CacheHit,
		ConfigSet, ConfigDelete,
		StorageNew, StorageDeleted,
		WorkQueueNew, WorkQueueDeleted, WorkAdd, WorkRemove, WorkAssigned,
		ProcessingRequestObservable, ProcessingRequestRoot, ProcessingRequestResult,
	}
}

// Event is the envelope delivered to subscribers. Args is the canonical JSON
// encoding of the payload, so local and remote subscribers observe the same
// shape after a round trip through the bus transport.
type Event struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// New builds an event, serializing payload into the canonical encoding.
// A nil payload produces an event with empty args.
func New(name string, payload interface{}) (Event, error) {
	e := Event{Name: name}
	if payload == nil {
		return e, nil
	}
	args, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	e.Args = args
	return e, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Args) == 0 {
		return nil
	}
	return json.Unmarshal(e.Args, v)
}
