package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/notes"
)

// ImportMode controls what happens when an imported key already has a note.
type ImportMode string

const (
	ImportModeReplace ImportMode = "replace" // imported note wins
	ImportModeKeep    ImportMode = "keep"    // existing note wins
)

// ImportNotesInput contains parameters for ImportNotes.
type ImportNotesInput struct {
	Path string     // required
	Mode ImportMode // default: replace
}

// ImportNotesOutput contains the result of ImportNotes.
type ImportNotesOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	Key     string `json:"key,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ImportNotes merges notes from a JSONL export file. Bad lines are reported
// in Errors and do not stop the import. Notes absent from the file are left
// alone.
func (s *Session) ImportNotes(ctx context.Context, in ImportNotesInput) (*ImportNotesOutput, error) {
	if in.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if in.Mode == "" {
		in.Mode = ImportModeReplace
	}
	if in.Mode != ImportModeReplace && in.Mode != ImportModeKeep {
		return nil, errors.NewInvalidRequest("mode must be one of: replace, keep")
	}
	if err := ValidatePath(in.Path, PathCheckRead, s.cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(in.Path)
	if err != nil {
		if _, ok := err.(*errors.DashError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseNotesFile(file)
	out := &ImportNotesOutput{Errors: parseErrors}
	if out.Errors == nil {
		out.Errors = []ImportError{}
	}

	existing := s.book.Entries()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewAborted()
		}
		entry := notes.Entry{Text: rec.Text, IsRed: rec.IsRed}
		if entry.Empty() {
			out.Skipped++
			continue
		}
		if _, ok := existing[rec.Key]; ok && in.Mode == ImportModeKeep {
			out.Skipped++
			continue
		}
		s.book.Set(rec.Key, entry, nil)
		out.Imported++
	}

	if out.Imported > 0 {
		s.saveNotes()
	}
	return out, nil
}

type lineRecord struct {
	NoteRecord
	DridashNotes bool `json:"_dridash_notes"`
}

func parseNotesFile(r io.Reader) ([]NoteRecord, []ImportError) {
	var records []NoteRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec lineRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if rec.DridashNotes {
			continue
		}
		rec.Key = strings.TrimSpace(rec.Key)
		if rec.Key == "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "INVALID_RECORD",
				Message: "missing key field",
			})
			continue
		}
		records = append(records, rec.NoteRecord)
	}
	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, parseErrors
}
