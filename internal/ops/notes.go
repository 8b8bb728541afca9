package ops

import (
	"log"
	"strings"
	"sync"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/settings"
)

// SetNoteInput contains parameters for SetNote.
type SetNoteInput struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	IsRed bool   `json:"is_red"`
}

// Note returns the note stored under key.
func (s *Session) Note(key string) notes.Entry {
	return s.book.Get(key)
}

// Notes returns every stored note.
func (s *Session) Notes() map[string]notes.Entry {
	return s.book.Entries()
}

// SetNote stores a note and notifies the other views bound to its key.
// origin is the editing view and may be nil. Clearing both fields deletes
// the note.
func (s *Session) SetNote(in SetNoteInput, origin *notes.Binding) (notes.Entry, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return notes.Entry{}, errors.NewInvalidRequest("note key is required")
	}
	entry := s.book.Set(key, notes.Entry{Text: in.Text, IsRed: in.IsRed}, origin)
	s.saveNotes()
	return entry, nil
}

// BindNote registers fn as a view of the note under key.
func (s *Session) BindNote(key string, fn func(notes.Entry)) *notes.Binding {
	return s.book.Bind(key, fn)
}

// UnbindNote detaches a view and drops closed bindings.
func (s *Session) UnbindNote(b *notes.Binding) {
	s.book.Unbind(b)
	s.book.Prune()
}

func (s *Session) saveNotes() {
	if err := db.SaveNotes(s.db, s.scope, s.book.Entries()); err != nil {
		log.Printf("dridash: save notes: %v", err)
	}
}

// NoteView is one rendered copy of a note: an item as shown on a card.
type NoteView struct {
	CardID string   `json:"card_id"`
	Item   ItemView `json:"item"`
}

// NoteSync is the outcome of SyncNote.
type NoteSync struct {
	Entry notes.Entry `json:"note"`
	// Origin is the edited view; nil when its card is not in the cache.
	Origin  *NoteView  `json:"origin,omitempty"`
	Mirrors []NoteView `json:"mirrors"`
}

// NoteViews returns every cached card item under snap that shows the note
// stored under key, in catalog order.
func (s *Session) NoteViews(snap settings.Snapshot, key string) []NoteView {
	cached := s.HydrateFor(snap)
	var out []NoteView
	for _, c := range catalog.Cards() {
		cv, ok := cached[c.ID]
		if !ok {
			continue
		}
		for _, it := range cv.Items {
			if it.NoteKey == key {
				out = append(out, NoteView{CardID: c.ID, Item: it})
			}
		}
	}
	return out
}

// SyncNote stores a note edited on originCard and returns every other view
// of the same key with the stored entry applied. The views are bound for the
// length of the edit, so they also pick up a concurrent edit of the key that
// lands before they are released.
func (s *Session) SyncNote(snap settings.Snapshot, in SetNoteInput, originCard string) (*NoteSync, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, errors.NewInvalidRequest("note key is required")
	}

	var (
		mu      sync.Mutex
		out     = &NoteSync{Mirrors: []NoteView{}}
		origin  *notes.Binding
		bound   []*notes.Binding
		mirrors = make(map[string]NoteView)
	)
	views := s.NoteViews(snap, key)
	for _, v := range views {
		if v.CardID == originCard && origin == nil {
			out.Origin = &v
			origin = s.BindNote(key, nil)
			bound = append(bound, origin)
			continue
		}
		bound = append(bound, s.BindNote(key, func(e notes.Entry) {
			mu.Lock()
			defer mu.Unlock()
			v.Item.Note = e
			mirrors[v.CardID] = v
		}))
	}
	defer func() {
		for _, b := range bound {
			s.book.Unbind(b)
		}
		s.book.Prune()
	}()

	entry, err := s.SetNote(in, origin)
	if err != nil {
		return nil, err
	}
	out.Entry = entry
	if out.Origin != nil {
		out.Origin.Item.Note = entry
	}

	mu.Lock()
	defer mu.Unlock()
	for _, v := range views {
		if m, ok := mirrors[v.CardID]; ok {
			out.Mirrors = append(out.Mirrors, m)
			delete(mirrors, v.CardID)
		}
	}
	return out, nil
}
