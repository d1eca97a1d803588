package directors

import (
	"sort"
	"sync"

	"lumendb/src/engine"

	"go.uber.org/zap"
)

// DatabaseService owns the single database info record and the registry of
// collection names inside it.
type DatabaseService struct {
	store  engine.DatabaseStore
	info   *engine.DatabaseInfo
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

func NewDatabaseService(store engine.DatabaseStore, name, version string, logger *zap.SugaredLogger) (*DatabaseService, error) {
	info, err := store.LoadOrCreateInfo(name, version)
	if err != nil {
		return nil, err
	}

	return &DatabaseService{
		store:  store,
		info:   info,
		logger: logger,
	}, nil
}

// Info returns a copy of the database record.
func (s *DatabaseService) Info() engine.DatabaseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := *s.info
	info.Collections = append([]string(nil), s.info.Collections...)
	return info
}

// RegisterCollection records a collection name in the database record.
func (s *DatabaseService) RegisterCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.info.Collections {
		if existing == name {
			return nil
		}
	}

	s.info.Collections = append(s.info.Collections, name)
	sort.Strings(s.info.Collections)

	return s.store.SaveInfo(s.info)
}

// DeregisterCollection removes a collection name from the database record.
func (s *DatabaseService) DeregisterCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.info.Collections[:0]
	for _, existing := range s.info.Collections {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	s.info.Collections = kept

	return s.store.SaveInfo(s.info)
}
