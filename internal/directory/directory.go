package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/model"
	"go.uber.org/zap"
)

// Fetcher is the authoritative source of the contact set.
type Fetcher interface {
	Contacts(ctx context.Context) ([]model.Contact, error)
}

// Directory holds the conversation summaries for the session user and keeps
// their previews fresh from live events. Membership only ever comes from the
// authoritative fetch: a live event from an unknown counterpart is ignored,
// never turned into a new entry. Ordering is fetch insertion order.
type Directory struct {
	fetcher Fetcher
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc

	mu       sync.RWMutex
	contacts []model.Contact
	index    map[string]int // otherUserId -> position in contacts
	loadErr  error
}

// New creates a directory backed by the given fetcher.
func New(fetcher Fetcher, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		fetcher: fetcher,
		bus:     b,
		logger:  logger,
		index:   make(map[string]int),
	}
}

// Load replaces the contact set with a fresh fetch. An empty inbox is a valid
// non-error result; any real failure leaves the set empty and is surfaced via
// Err until the next successful Load.
func (d *Directory) Load(ctx context.Context) error {
	contacts, err := d.fetcher.Contacts(ctx)

	d.mu.Lock()
	if err != nil {
		d.contacts = nil
		d.index = make(map[string]int)
		d.loadErr = err
	} else {
		d.contacts = contacts
		d.index = make(map[string]int, len(contacts))
		for i, c := range contacts {
			d.index[c.OtherUserID] = i
		}
		d.loadErr = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("failed to load contacts", zap.Error(err))
	} else {
		d.logger.Info("contacts loaded", zap.Int("count", len(contacts)))
	}
	d.publishUpdated()
	return err
}

// Start subscribes to live events on the bus and applies them until Stop.
func (d *Directory) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("live.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.ApplyEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// ApplyEvent folds one live event into the preview state. A new message from
// a known contact rewrites its preview; a status event only bumps the
// contact's activity timestamp, leaving the preview text alone.
func (d *Directory) ApplyEvent(evt bus.Event) {
	changed := false

	d.mu.Lock()
	switch p := evt.Payload.(type) {
	case model.NewMessage:
		if i, ok := d.index[p.SenderID]; ok {
			d.contacts[i].LastMessage = p.Content
			d.contacts[i].LastMessageAt = p.SentAt
			changed = true
		}
	case model.MessageStatus:
		if i, ok := d.index[p.ReceiverID]; ok {
			d.contacts[i].LastMessageAt = time.Now()
			changed = true
		}
	}
	d.mu.Unlock()

	if changed {
		d.publishUpdated()
	}
}

// NoteLocalSend bumps the preview for a locally sent message, so the list
// reflects the send before any server confirmation arrives.
func (d *Directory) NoteLocalSend(receiverID, content string) {
	d.mu.Lock()
	changed := false
	if i, ok := d.index[receiverID]; ok {
		d.contacts[i].LastMessage = content
		d.contacts[i].LastMessageAt = time.Now()
		changed = true
	}
	d.mu.Unlock()

	if changed {
		d.publishUpdated()
	}
}

// Contacts returns a snapshot of the contact set in fetch order.
func (d *Directory) Contacts() []model.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Contact, len(d.contacts))
	copy(out, d.contacts)
	return out
}

// Filter returns the contacts whose display name contains term,
// case-insensitively, preserving order. An empty term returns everything.
func (d *Directory) Filter(term string) []model.Contact {
	if term == "" {
		return d.Contacts()
	}
	needle := strings.ToLower(term)

	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Contact
	for _, c := range d.contacts {
		if strings.Contains(strings.ToLower(c.OtherUserName), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the contact for the given counterpart id, if known.
func (d *Directory) Get(otherUserID string) (model.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i, ok := d.index[otherUserID]; ok {
		return d.contacts[i], true
	}
	return model.Contact{}, false
}

// Err returns the last load failure, or nil.
func (d *Directory) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadErr
}

func (d *Directory) publishUpdated() {
	d.bus.Publish(bus.Event{Kind: "directory.updated", Timestamp: time.Now()})
}
