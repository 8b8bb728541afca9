// Package notes keeps per-item annotations and fans edits out to every
// view bound to the same item.
package notes

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hpungsan/dridash/internal/catalog"
)

// Entry is the note attached to one item.
type Entry struct {
	Text  string `json:"text"`
	IsRed bool   `json:"isRed"`
}

// Empty reports whether the entry carries nothing worth storing.
func (e Entry) Empty() bool {
	return e.Text == "" && !e.IsRed
}

// Key returns the storage key for an item of repo.
func Key(repo string, itemID int64) string {
	return fmt.Sprintf("%s#%d", repo, itemID)
}

// SplitKey splits a key built by Key. ok is false when key has no numeric
// item id after the last "#".
func SplitKey(key string) (repo string, itemID int64, ok bool) {
	i := strings.LastIndex(key, "#")
	if i < 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:i], id, true
}

// Clamp truncates text to the note limit, counting runes.
func Clamp(text string) string {
	if utf8.RuneCountInString(text) <= catalog.NoteMaxChars {
		return text
	}
	r := []rune(text)
	return string(r[:catalog.NoteMaxChars])
}

// Binding is one view of a note. Its callback runs when another view edits
// the same key.
type Binding struct {
	key    string
	fn     func(Entry)
	closed bool
}

// Key returns the bound note key.
func (b *Binding) Key() string { return b.key }

// Book is the in-memory note store. It is safe for concurrent use.
type Book struct {
	mu       sync.Mutex
	entries  map[string]Entry
	bindings map[string][]*Binding
}

// NewBook returns a book seeded with entries (may be nil).
func NewBook(entries map[string]Entry) *Book {
	b := &Book{
		entries:  make(map[string]Entry, len(entries)),
		bindings: make(map[string][]*Binding),
	}
	for k, e := range entries {
		e.Text = Clamp(e.Text)
		if !e.Empty() {
			b.entries[k] = e
		}
	}
	return b
}

// Get returns the note for key (zero Entry when absent).
func (b *Book) Get(key string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[key]
}

// Entries returns a copy of every stored note.
func (b *Book) Entries() map[string]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Entry, len(b.entries))
	for k, e := range b.entries {
		out[k] = e
	}
	return out
}

// Keys returns the stored keys, sorted.
func (b *Book) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.entries))
	for k := range b.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Bind registers fn as a view of key.
func (b *Book) Bind(key string, fn func(Entry)) *Binding {
	bd := &Binding{key: key, fn: fn}
	b.mu.Lock()
	b.bindings[key] = append(b.bindings[key], bd)
	b.mu.Unlock()
	return bd
}

// Unbind closes bd; it no longer receives updates.
func (b *Book) Unbind(bd *Binding) {
	if bd == nil {
		return
	}
	b.mu.Lock()
	bd.closed = true
	b.mu.Unlock()
}

// Prune drops closed bindings and returns how many remain.
func (b *Book) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, list := range b.bindings {
		kept := list[:0]
		for _, bd := range list {
			if !bd.closed {
				kept = append(kept, bd)
			}
		}
		if len(kept) == 0 {
			delete(b.bindings, key)
			continue
		}
		b.bindings[key] = kept
		n += len(kept)
	}
	return n
}

// Set stores entry (text clamped) under key and notifies every open binding
// of the key except origin, which may be nil. An empty entry deletes the note.
// It returns the stored entry.
func (b *Book) Set(key string, entry Entry, origin *Binding) Entry {
	entry.Text = Clamp(entry.Text)

	b.mu.Lock()
	if entry.Empty() {
		delete(b.entries, key)
	} else {
		b.entries[key] = entry
	}
	var notify []func(Entry)
	for _, bd := range b.bindings[key] {
		if bd != origin && !bd.closed && bd.fn != nil {
			notify = append(notify, bd.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range notify {
		fn(entry)
	}
	return entry
}
