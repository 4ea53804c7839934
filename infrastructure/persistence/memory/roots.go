package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

type rootRecord struct {
	version string
	data    []byte
}

type detailsRecord struct {
	rootUUID string
	data     json.RawMessage
}

// RootStore keeps root analyses and their details payloads in process
// memory. Roots are stored in their stripped encoding, details live in a
// sibling map keyed by analysis UUID, mirroring the relational layout.
type RootStore struct {
	mu      sync.RWMutex
	roots   map[string]rootRecord
	details map[string]detailsRecord
}

// NewRootStore builds an empty store.
func NewRootStore() *RootStore {
	return &RootStore{
		roots:   map[string]rootRecord{},
		details: map[string]detailsRecord{},
	}
}

func (s *RootStore) TrackRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	data, err := root.MarshalStripped()
	if err != nil {
		return false, err
	}

	version := root.Version
	if version == "" {
		version = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[root.UUID]; ok {
		return false, nil
	}
	s.roots[root.UUID] = rootRecord{version: version, data: data}
	root.Version = version
	return true, nil
}

func (s *RootStore) GetRoot(ctx context.Context, id string) (*analysis.RootAnalysis, error) {
	s.mu.RLock()
	record, ok := s.roots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var root analysis.RootAnalysis
	if err := json.Unmarshal(record.data, &root); err != nil {
		return nil, err
	}
	// the stored version column is authoritative over the encoded copy
	root.Version = record.version
	return &root, nil
}

func (s *RootStore) UpdateRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	data, err := root.MarshalStripped()
	if err != nil {
		return false, err
	}

	newVersion := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.roots[root.UUID]
	if !ok || record.version != root.Version {
		return false, nil
	}
	s.roots[root.UUID] = rootRecord{version: newVersion, data: data}
	root.Version = newVersion
	return true, nil
}

func (s *RootStore) DeleteRoot(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[id]; !ok {
		return false, nil
	}
	delete(s.roots, id)
	// cascade to details
	for detailsID, record := range s.details {
		if record.rootUUID == id {
			delete(s.details, detailsID)
		}
	}
	return true, nil
}

func (s *RootStore) RootExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roots[id]
	return ok, nil
}

func (s *RootStore) TrackDetails(ctx context.Context, rootUUID, id string, value json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[rootUUID]; !ok {
		return false, pkgerrors.NewUnknownRoot(rootUUID)
	}
	_, existed := s.details[id]
	s.details[id] = detailsRecord{rootUUID: rootUUID, data: append(json.RawMessage(nil), value...)}
	return !existed, nil
}

func (s *RootStore) GetDetails(ctx context.Context, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.details[id]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), record.data...), nil
}

func (s *RootStore) DeleteDetails(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.details[id]; !ok {
		return false, nil
	}
	delete(s.details, id)
	return true, nil
}
