package db

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"log"
	"time"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/settings"
)

// Blob kinds.
const (
	KindSettings  = "settings"
	KindNotes     = "notes"
	KindCardCache = "cards_cache"
)

// GetBlob returns the raw JSON stored under (scope, kind).
// found is false when nothing has been stored yet.
func GetBlob(db *sql.DB, scope, kind string) (data string, found bool, err error) {
	err = db.QueryRow(`SELECT data FROM blobs WHERE scope = ? AND kind = ?`, scope, kind).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return data, true, nil
}

// PutBlob stores data under (scope, kind), replacing any previous value.
func PutBlob(db *sql.DB, scope, kind, data string) error {
	_, err := db.Exec(`
		INSERT INTO blobs (scope, kind, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, scope, kind, data, time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteBlobs removes every blob of scope.
func DeleteBlobs(db *sql.DB, scope string) error {
	if _, err := db.Exec(`DELETE FROM blobs WHERE scope = ?`, scope); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// loadJSON decodes the blob into v. Missing, unreadable and malformed blobs
// leave v untouched and report false.
func loadJSON(db *sql.DB, scope, kind string, v any) bool {
	data, found, err := GetBlob(db, scope, kind)
	if err != nil {
		log.Printf("dridash: read %s/%s: %v", scope, kind, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		log.Printf("dridash: ignoring malformed %s/%s blob: %v", scope, kind, err)
		return false
	}
	return true
}

func saveJSON(db *sql.DB, scope, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	return PutBlob(db, scope, kind, string(data))
}

// LoadSettings returns the persisted settings, empty when missing or malformed.
func LoadSettings(db *sql.DB, scope string) settings.Saved {
	var s settings.Saved
	if !loadJSON(db, scope, KindSettings, &s) {
		return settings.Saved{}
	}
	return s
}

// SaveSettings persists the settings blob.
func SaveSettings(db *sql.DB, scope string, s settings.Saved) error {
	return saveJSON(db, scope, KindSettings, s)
}

// LoadNotes returns the persisted notes, empty when missing or malformed.
func LoadNotes(db *sql.DB, scope string) map[string]notes.Entry {
	m := map[string]notes.Entry{}
	if !loadJSON(db, scope, KindNotes, &m) || m == nil {
		return map[string]notes.Entry{}
	}
	return m
}

// SaveNotes persists the notes blob.
func SaveNotes(db *sql.DB, scope string, m map[string]notes.Entry) error {
	if m == nil {
		m = map[string]notes.Entry{}
	}
	return saveJSON(db, scope, KindNotes, m)
}

// CardEntry is one card's last fetched result.
type CardEntry struct {
	Items      []issue.Item `json:"items"`
	TotalCount int          `json:"total_count"`
	// CachedAt is in Unix milliseconds.
	CachedAt int64 `json:"cachedAt"`
}

// CachedTime returns CachedAt as a time.
func (e CardEntry) CachedTime() time.Time {
	return time.UnixMilli(e.CachedAt)
}

// Fresh reports whether the entry is younger than the card cache TTL.
func (e CardEntry) Fresh(now time.Time) bool {
	if e.CachedAt <= 0 {
		return false
	}
	return now.Sub(e.CachedTime()) < catalog.CardCacheTTL
}

// CardCache is the persisted result set of the last refreshes, valid only for
// the settings fingerprint that produced it.
type CardCache struct {
	Fingerprint string               `json:"fingerprint"`
	Cards       map[string]CardEntry `json:"cards"`
}

// For returns the cache when it belongs to fingerprint, or an empty cache for it.
func (c CardCache) For(fingerprint string) CardCache {
	if c.Fingerprint != fingerprint || c.Cards == nil {
		return CardCache{Fingerprint: fingerprint, Cards: map[string]CardEntry{}}
	}
	return c
}

// LoadCardCache returns the persisted card cache, empty when missing or malformed.
func LoadCardCache(db *sql.DB, scope string) CardCache {
	var c CardCache
	if !loadJSON(db, scope, KindCardCache, &c) {
		return CardCache{Cards: map[string]CardEntry{}}
	}
	if c.Cards == nil {
		c.Cards = map[string]CardEntry{}
	}
	return c
}

// SaveCardCache persists the card cache.
func SaveCardCache(db *sql.DB, scope string, c CardCache) error {
	if c.Cards == nil {
		c.Cards = map[string]CardEntry{}
	}
	return saveJSON(db, scope, KindCardCache, c)
}

// Run is one recorded refresh of a section or a single card.
type Run struct {
	ID         string `json:"id"`
	Scope      string `json:"scope"`
	Target     string `json:"target"`
	Cards      int    `json:"cards"`
	Errors     int    `json:"errors"`
	Status     string `json:"status"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// InsertRun records a finished refresh.
func InsertRun(db *sql.DB, r Run) error {
	_, err := db.Exec(`
		INSERT INTO refresh_runs (id, scope, target, cards, errors, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Scope, r.Target, r.Cards, r.Errors, r.Status, r.StartedAt, r.FinishedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListRuns returns the most recent runs of scope, newest first.
func ListRuns(db *sql.DB, scope string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, scope, target, cards, errors, status, started_at, finished_at
		FROM refresh_runs
		WHERE scope = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, scope, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Scope, &r.Target, &r.Cards, &r.Errors, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}
