package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lumendb/src/helpers"

	"go.uber.org/zap"
)

const backupsDirName = "backups"

// Manager creates and restores zip archives of the on-disk state. Callers
// must quiesce the engine before Restore; the archive is opaque to the rest
// of the system.
type Manager struct {
	DataDirectory string
	logger        *zap.SugaredLogger
}

// Info describes one backup archive.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	m := &Manager{
		DataDirectory: dataDir,
		logger:        logger,
	}

	if err := helpers.EnsureDir(m.backupsDir()); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) backupsDir() string {
	return filepath.Join(m.DataDirectory, backupsDirName)
}

// Create archives the data directory (except existing backups and the lock
// file) into a fresh zip and returns its name.
func (m *Manager) Create() (string, error) {
	name := fmt.Sprintf("%s_%s.zip",
		time.Now().UTC().Format("20060102T150405"),
		helpers.GenerateUUID()[:8])
	path := filepath.Join(m.backupsDir(), name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	writer := zip.NewWriter(file)
	defer writer.Close()

	err = filepath.Walk(m.DataDirectory, func(entry string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(m.DataDirectory, entry)
		if err != nil {
			return err
		}

		// The backups directory and the advisory lock stay out of archives.
		if rel == "." || rel == backupsDirName || strings.HasPrefix(rel, backupsDirName+string(os.PathSeparator)) {
			return nil
		}
		if rel == ".lock" {
			return nil
		}
		if info.IsDir() {
			return nil
		}

		entryWriter, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(entry)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(entryWriter, src)
		return err
	})
	if err != nil {
		writer.Close()
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write backup archive: %w", err)
	}

	m.logger.Infof("Created backup %s", name)

	return name, nil
}

// List returns the available backups, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat backup %s: %w", entry.Name(), err)
		}
		backups = append(backups, Info{
			Name:    entry.Name(),
			Size:    info.Size(),
			Created: info.ModTime().UTC(),
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Created.After(backups[j].Created) })

	return backups, nil
}

// Restore replaces the current collections, indexes and database record with
// the contents of the named archive. The caller must hold the engine
// quiesced for the duration.
func (m *Manager) Restore(name string) error {
	path := filepath.Join(m.backupsDir(), filepath.Base(name))

	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open backup %s: %w", name, err)
	}
	defer reader.Close()

	// Clear the live state before extraction.
	for _, stale := range []string{"collections", "indexes", "db_info.json"} {
		if err := os.RemoveAll(filepath.Join(m.DataDirectory, stale)); err != nil {
			return fmt.Errorf("failed to clear %s before restore: %w", stale, err)
		}
	}

	for _, entry := range reader.File {
		target := filepath.Join(m.DataDirectory, filepath.FromSlash(entry.Name))

		// Reject archive members that would escape the data directory.
		if !strings.HasPrefix(target, filepath.Clean(m.DataDirectory)+string(os.PathSeparator)) {
			return fmt.Errorf("backup entry %q escapes the data directory", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to read backup entry %s: %w", entry.Name, err)
		}

		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to restore %s: %w", entry.Name, err)
		}

		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			dst.Close()
			return fmt.Errorf("failed to restore %s: %w", entry.Name, err)
		}

		src.Close()
		if err := dst.Close(); err != nil {
			return fmt.Errorf("failed to restore %s: %w", entry.Name, err)
		}
	}

	m.logger.Infof("Restored backup %s", name)

	return nil
}
