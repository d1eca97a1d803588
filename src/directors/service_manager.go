package directors

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lumendb/src/engine"
)

// ServiceManager is the top-level engine value handed to request handlers.
// It bundles the services so the transport layer depends on one object.
type ServiceManager struct {
	Database    *DatabaseService
	Collections *CollectionService

	dbStore engine.DatabaseStore
	journal *engine.Journal
	logger  *zap.SugaredLogger
}

var (
	managerInstance *ServiceManager
	managerOnce     sync.Once
)

func NewServiceManager(database *DatabaseService,
	collections *CollectionService,
	dbStore engine.DatabaseStore,
	journal *engine.Journal,
	logger *zap.SugaredLogger) *ServiceManager {

	return &ServiceManager{
		Database:    database,
		Collections: collections,
		dbStore:     dbStore,
		journal:     journal,
		logger:      logger,
	}
}

// InitServiceManager installs the process-wide service manager.
func InitServiceManager(manager *ServiceManager) *ServiceManager {
	managerOnce.Do(func() {
		managerInstance = manager
	})
	return managerInstance
}

// GetServiceManager returns the process-wide service manager, or nil before
// InitServiceManager runs.
func GetServiceManager() *ServiceManager {
	return managerInstance
}

// CreateCollection creates a collection and registers it in the database
// record.
func (m *ServiceManager) CreateCollection(name string) (*engine.CollectionMeta, error) {
	meta, err := m.Collections.CreateCollection(name)
	if err != nil {
		return nil, err
	}

	if err := m.Database.RegisterCollection(name); err != nil {
		return nil, err
	}

	return meta, nil
}

// DeleteCollection destroys a collection and deregisters it.
func (m *ServiceManager) DeleteCollection(name string) error {
	if err := m.Collections.DeleteCollection(name); err != nil {
		return err
	}

	return m.Database.DeregisterCollection(name)
}

// Close flushes the journal and releases the data directory lock.
func (m *ServiceManager) Close() error {
	return multierr.Combine(
		m.journal.Close(),
		m.dbStore.Close(),
	)
}
