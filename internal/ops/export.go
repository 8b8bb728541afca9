package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hpungsan/dridash/internal/errors"
)

// NotesSchemaVersion is written in the header of every notes export.
const NotesSchemaVersion = "1.0"

// ExportNotesInput contains parameters for ExportNotes.
type ExportNotesInput struct {
	Path string // optional, default: ~/.dridash/exports/<scope>-<timestamp>.jsonl
}

// ExportNotesOutput contains the result of ExportNotes.
type ExportNotesOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// NotesHeader is the first line of a notes export file.
type NotesHeader struct {
	DridashNotes  bool   `json:"_dridash_notes"`
	SchemaVersion string `json:"schema_version"`
	Scope         string `json:"scope"`
	ExportedAt    int64  `json:"exported_at"`
}

// NoteRecord is one note line of an export file.
type NoteRecord struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	IsRed bool   `json:"isRed"`
}

// ExportNotes writes every note to a JSONL file, sorted by key. The file is
// written to a temp name and renamed into place, so an existing export
// survives a failed run.
func (s *Session) ExportNotes(ctx context.Context, in ExportNotesInput) (*ExportNotesOutput, error) {
	now := s.now()

	exportPath := in.Path
	if exportPath == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s-%s.jsonl", SanitizeForFilename(s.scope), now.Format("2006-01-02T150405"))
		exportPath = filepath.Join(dir, name)
	}
	if err := ValidatePath(exportPath, PathCheckWrite, s.cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	header := NotesHeader{
		DridashNotes:  true,
		SchemaVersion: NotesSchemaVersion,
		Scope:         s.scope,
		ExportedAt:    now.Unix(),
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	entries := s.book.Entries()
	count := 0
	for _, key := range s.book.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewAborted()
		}
		e, ok := entries[key]
		if !ok {
			continue
		}
		if err := enc.Encode(NoteRecord{Key: key, Text: e.Text, IsRed: e.IsRed}); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if isSymlink(exportPath) {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	// os.Rename cannot replace an existing file on Windows; keep the old one.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportNotesOutput{Path: exportPath, Count: count, ExportedAt: now.Unix()}, nil
}
