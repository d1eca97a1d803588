package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lumendb/src/helpers"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	dbInfoFileName = "db_info.json"
	lockFileName   = ".lock"
)

// DatabaseStore persists the single database info record.
type DatabaseStore interface {
	LoadOrCreateInfo(name, version string) (*DatabaseInfo, error)
	SaveInfo(info *DatabaseInfo) error
	Close() error
}

type DatabaseStorageEngine struct {
	DataDirectory string
	lockFile      *os.File
	logger        *zap.SugaredLogger
}

// NewDatabaseStore creates the database storage engine, ensures the data
// directory exists and takes an advisory lock on it so two server processes
// never share one data directory.
func NewDatabaseStore(dataDir string, logger *zap.SugaredLogger) (*DatabaseStorageEngine, error) {
	store := &DatabaseStorageEngine{
		DataDirectory: dataDir,
		logger:        logger,
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(store.DataDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", store.DataDirectory, err)
	}

	lockPath := filepath.Join(dataDir, lockFileName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("data directory %s is locked by another process: %w", dataDir, err)
	}
	store.lockFile = lockFile

	return store, nil
}

// LoadOrCreateInfo reads the database info record, creating a fresh one if
// this is the first run against the data directory.
func (d *DatabaseStorageEngine) LoadOrCreateInfo(name, version string) (*DatabaseInfo, error) {
	infoPath := filepath.Join(d.DataDirectory, dbInfoFileName)

	if helpers.FileExists(infoPath, d.logger) {
		var info DatabaseInfo
		if err := helpers.ReadJSONFile(infoPath, &info); err != nil {
			return nil, WrapError(KindInternal, err, "failed to load database info")
		}
		return &info, nil
	}

	info := &DatabaseInfo{
		Name:        name,
		Version:     version,
		Created:     time.Now().UTC(),
		Collections: []string{},
	}

	if err := d.SaveInfo(info); err != nil {
		return nil, err
	}

	d.logger.Infof("Created database %s (version %s) in %s", name, version, d.DataDirectory)

	return info, nil
}

// SaveInfo persists the database info record.
func (d *DatabaseStorageEngine) SaveInfo(info *DatabaseInfo) error {
	infoPath := filepath.Join(d.DataDirectory, dbInfoFileName)
	if err := helpers.WriteJSONFile(infoPath, info); err != nil {
		return WrapError(KindInternal, err, "failed to save database info")
	}
	return nil
}

// Close releases the data directory lock.
func (d *DatabaseStorageEngine) Close() error {
	if d.lockFile == nil {
		return nil
	}

	if err := unix.Flock(int(d.lockFile.Fd()), unix.LOCK_UN); err != nil {
		d.lockFile.Close()
		return fmt.Errorf("failed to release data directory lock: %w", err)
	}

	err := d.lockFile.Close()
	d.lockFile = nil
	return err
}
