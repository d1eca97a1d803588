package engine

// This file contains the mutation journal for the database engine. Every
// document mutation is appended here before the caller sees a result, which
// gives operators a trail to diagnose index drift; recovery itself is an
// index rebuild, not a journal replay.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JournalEntry represents a single entry in the journal.
type JournalEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId,omitempty"`
}

// Journal appends mutation records to dated, size-capped files.
type Journal struct {
	dir         string
	file        *os.File
	currentDate time.Time
	maxFileSize int64
	currentSize int64
	sequence    int
}

// NewJournal creates a journal writing into dir. Files rotate daily and
// whenever they exceed maxFileSize bytes.
func NewJournal(dir string, maxFileSize int64) (*Journal, error) {
	if maxFileSize <= 0 {
		maxFileSize = 1000000
	}

	journal := &Journal{
		dir:         dir,
		maxFileSize: maxFileSize,
		currentDate: time.Now().Truncate(24 * time.Hour),
	}

	if err := journal.ensureCorrectFileOpen(); err != nil {
		return nil, err
	}

	return journal, nil
}

// ensureCorrectFileOpen ensures the correct journal file is open based on
// the current date and the size cap.
func (j *Journal) ensureCorrectFileOpen() error {
	today := time.Now().Truncate(24 * time.Hour)

	rotateForSize := j.file != nil && j.currentSize > j.maxFileSize
	if j.file != nil && j.currentDate.Equal(today) && !rotateForSize {
		return nil
	}

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close previous journal file: %w", err)
		}
		j.file = nil
	}

	if !j.currentDate.Equal(today) {
		j.currentDate = today
		j.sequence = 0
	} else if rotateForSize {
		j.sequence++
	}

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	dateStr := j.currentDate.Format("2006-01-02")
	fileName := fmt.Sprintf("mutations_%s.journal", dateStr)
	if j.sequence > 0 {
		fileName = fmt.Sprintf("mutations_%s.%d.journal", dateStr, j.sequence)
	}
	path := filepath.Join(j.dir, fileName)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file %s: %w", path, err)
	}

	j.file = file
	j.currentSize = info.Size()

	return nil
}

// Append adds a new entry to the journal.
func (j *Journal) Append(op, collection, documentID string) error {
	if j == nil {
		return nil
	}

	if err := j.ensureCorrectFileOpen(); err != nil {
		return err
	}

	entry := JournalEntry{
		Timestamp:  time.Now().UTC(),
		Op:         op,
		Collection: collection,
		DocumentID: documentID,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to write to journal file: %w", err)
	}
	j.currentSize += int64(len(line))

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j == nil || j.file == nil {
		return nil
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}
	j.file = nil

	return nil
}
