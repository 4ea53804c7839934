package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"acecore/domain/analysis"
	"acecore/domain/events"
)

// ModuleRegistry defines the interface for module type persistence
// This is a port in hexagonal architecture - the core doesn't know about the implementation
type ModuleRegistry interface {
	// Register upserts a module type record
	Register(ctx context.Context, amt *analysis.ModuleType) error

	// Get retrieves a module type by name, nil when unknown
	Get(ctx context.Context, name string) (*analysis.ModuleType, error)

	// Delete removes a module type record
	Delete(ctx context.Context, name string) (bool, error)

	// List retrieves every registered module type
	List(ctx context.Context) ([]*analysis.ModuleType, error)
}

// RootStore defines the interface for root analysis persistence
type RootStore interface {
	// TrackRoot inserts a new root, false when the uuid already exists
	TrackRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error)

	// GetRoot retrieves a root by uuid, nil when unknown
	GetRoot(ctx context.Context, uuid string) (*analysis.RootAnalysis, error)

	// UpdateRoot stores the root iff root.Version matches the stored version,
	// minting a fresh version into root.Version on success
	UpdateRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error)

	// DeleteRoot removes the root and cascades to its details
	DeleteRoot(ctx context.Context, uuid string) (bool, error)

	// RootExists reports whether the root is tracked
	RootExists(ctx context.Context, uuid string) (bool, error)
}

// DetailsStore defines the interface for analysis details persistence,
// keyed by analysis uuid and stored separately from the root record
type DetailsStore interface {
	// TrackDetails stores the details payload for an analysis under a root,
	// true when the payload was inserted rather than replaced
	TrackDetails(ctx context.Context, rootUUID, uuid string, value json.RawMessage) (bool, error)

	// GetDetails retrieves a details payload, nil when unknown
	GetDetails(ctx context.Context, uuid string) (json.RawMessage, error)

	// DeleteDetails removes a details payload
	DeleteDetails(ctx context.Context, uuid string) (bool, error)
}

// RequestTracker defines the interface for in-flight analysis request state
type RequestTracker interface {
	// Track upserts the request record. When the request status is analyzing
	// the record's expiration is stamped now + type timeout.
	Track(ctx context.Context, request *analysis.AnalysisRequest) error

	// Get retrieves a request by id, nil when unknown
	Get(ctx context.Context, id string) (*analysis.AnalysisRequest, error)

	// GetByCacheKey retrieves a request by cache key, nil when unknown
	GetByCacheKey(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error)

	// GetByRoot retrieves every request referencing the root
	GetByRoot(ctx context.Context, rootUUID string) ([]*analysis.AnalysisRequest, error)

	// GetExpired retrieves every analyzing request past its expiration
	GetExpired(ctx context.Context) ([]*analysis.AnalysisRequest, error)

	// Delete removes the request record and its links
	Delete(ctx context.Context, id string) (bool, error)

	// Lock acquires the request's advisory lock, false when already held
	Lock(ctx context.Context, id string) (bool, error)

	// Unlock releases the request's advisory lock, false when not held
	Unlock(ctx context.Context, id string) (bool, error)

	// Link attaches dest to source iff source exists and is unlocked,
	// in one atomic decision
	Link(ctx context.Context, sourceID, destID string) (bool, error)

	// LinkedRequests retrieves every request linked to the source
	LinkedRequests(ctx context.Context, sourceID string) ([]*analysis.AnalysisRequest, error)

	// ClearForModuleType removes every request for the module type
	ClearForModuleType(ctx context.Context, amtName string) error
}

// ResultCache defines the interface for cached analysis results
type ResultCache interface {
	// Put stores the request result under the cache key for ttl seconds,
	// replacing any prior entry
	Put(ctx context.Context, cacheKey string, request *analysis.AnalysisRequest, ttl int) error

	// Get retrieves a cached result, nil when missing or expired
	Get(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error)

	// DeleteExpired removes every expired entry, returning the count
	DeleteExpired(ctx context.Context) (int, error)

	// DeleteForModuleType removes every entry produced by the module type
	DeleteForModuleType(ctx context.Context, amtName string) error

	// Size returns the entry count, scoped to a module type when non-empty
	Size(ctx context.Context, amtName string) (int, error)
}

// WorkQueueStore defines the interface for per-module FIFO work queues
type WorkQueueStore interface {
	// AddQueue creates the queue, false when it already exists
	AddQueue(ctx context.Context, name string) (bool, error)

	// DeleteQueue removes the queue and discards its contents
	DeleteQueue(ctx context.Context, name string) (bool, error)

	// QueueExists reports whether the queue exists
	QueueExists(ctx context.Context, name string) (bool, error)

	// Put appends the request to the queue
	Put(ctx context.Context, name string, request *analysis.AnalysisRequest) error

	// Get pops the next request, blocking up to timeout. Zero timeout polls.
	// Returns nil when the wait times out.
	Get(ctx context.Context, name string, timeout time.Duration) (*analysis.AnalysisRequest, error)

	// Size returns the queue depth
	Size(ctx context.Context, name string) (int, error)
}

// EventHandler defines the interface for event subscribers
type EventHandler interface {
	// HandleEvent processes a fired event
	HandleEvent(ctx context.Context, event events.Event) error

	// HandleError processes a failure raised by HandleEvent
	HandleError(ctx context.Context, event events.Event, err error)
}

// EventBus defines the interface for firing lifecycle events to subscribers
type EventBus interface {
	// RegisterHandler subscribes the handler to the named event.
	// Duplicate registration is ignored.
	RegisterHandler(ctx context.Context, eventName string, handler EventHandler) error

	// RemoveHandler unsubscribes the handler, from the named events only
	// when any are given
	RemoveHandler(ctx context.Context, handler EventHandler, eventNames ...string) error

	// GetHandlers retrieves the handlers subscribed to the named event
	GetHandlers(ctx context.Context, eventName string) ([]EventHandler, error)

	// Fire delivers the event to a snapshot of the subscriber list
	Fire(ctx context.Context, event events.Event) error
}

// ContentStore defines the interface for content-addressed blob storage
type ContentStore interface {
	// StoreContent writes the stream and returns its sha256 address
	StoreContent(ctx context.Context, r io.Reader, meta *analysis.ContentMetadata) (string, error)

	// SaveFile stores the file at path, using the file name as content name
	SaveFile(ctx context.Context, path string, meta *analysis.ContentMetadata) (string, error)

	// GetContentMeta retrieves blob metadata, nil when unknown
	GetContentMeta(ctx context.Context, sha256 string) (*analysis.ContentMetadata, error)

	// OpenContent opens the blob bytes for streaming reads
	OpenContent(ctx context.Context, sha256 string) (io.ReadCloser, error)

	// LoadFile materializes the blob at dest, hardlinking when possible
	LoadFile(ctx context.Context, sha256, dest string) error

	// DeleteContent removes the blob and its metadata
	DeleteContent(ctx context.Context, sha256 string) (bool, error)

	// ExpiredContent retrieves metadata for every deletable blob
	ExpiredContent(ctx context.Context) ([]*analysis.ContentMetadata, error)

	// DeleteExpiredContent removes every deletable blob, returning the count
	DeleteExpiredContent(ctx context.Context) (int, error)

	// TrackContentRoot records a non-owning root reference on the blob
	TrackContentRoot(ctx context.Context, sha256, rootUUID string) error

	// ClearRootReferences drops the root's references from every blob
	ClearRootReferences(ctx context.Context, rootUUID string) error
}

// ConfigSetting is one named configuration value with its documentation
type ConfigSetting struct {
	Name          string          `json:"name"`
	Value         json.RawMessage `json:"value"`
	Documentation string          `json:"documentation,omitempty"`
}

// ConfigStore defines the interface for runtime configuration settings
type ConfigStore interface {
	// GetConfig retrieves a setting by dotted-path key, nil when unset
	GetConfig(ctx context.Context, key string) (*ConfigSetting, error)

	// SetConfig stores a setting
	SetConfig(ctx context.Context, setting *ConfigSetting) error

	// DeleteConfig removes a setting
	DeleteConfig(ctx context.Context, key string) (bool, error)
}

// APIKey is one stored credential. KeyHash is the sha256 of the issued key,
// the plaintext is returned once at creation and never stored.
type APIKey struct {
	KeyHash     string `json:"api_key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}

// APIKeyStore defines the interface for API credential persistence
type APIKeyStore interface {
	// CreateAPIKey stores a new credential, erroring on a duplicate name
	CreateAPIKey(ctx context.Context, key *APIKey) error

	// DeleteAPIKey removes the named credential
	DeleteAPIKey(ctx context.Context, name string) (bool, error)

	// VerifyAPIKey reports whether the key hash belongs to a stored
	// credential, optionally requiring admin rights
	VerifyAPIKey(ctx context.Context, keyHash string, adminRequired bool) (bool, error)
}

// AlertStore defines the interface for alert-system registration and
// per-system alert queues
type AlertStore interface {
	// RegisterAlertSystem creates the system's queue, false when present
	RegisterAlertSystem(ctx context.Context, name string) (bool, error)

	// UnregisterAlertSystem removes the system and its queued alerts
	UnregisterAlertSystem(ctx context.Context, name string) (bool, error)

	// SubmitAlert pushes the root uuid onto every registered system's
	// queue, false when no system is registered
	SubmitAlert(ctx context.Context, rootUUID string) (bool, error)

	// GetAlerts drains the system's queue when no timeout is given, or
	// blocks up to timeout for a single alert. Errors when the system is
	// unknown.
	GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error)

	// GetAlertCount returns the system's outstanding alert count.
	// Errors when the system is unknown.
	GetAlertCount(ctx context.Context, name string) (int, error)
}
