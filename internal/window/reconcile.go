package window

import (
	"fmt"
	"slices"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// UpdateItems replaces the item list. Resources of ids that disappeared are
// closed; everything else keeps its handle. The current index follows the
// current item to its new position, falls back to 0 when the item is gone,
// and returns to the initial state when the list is empty.
func (m *Manager[T]) UpdateItems(items []interfaces.MediaItem[T]) error {
	if err := validateItems(items); err != nil {
		return err
	}

	keep := make(map[string]bool, len(items))
	for _, it := range items {
		keep[it.ID] = true
	}

	m.mu.Lock()
	prevID := m.currentIDLocked()
	m.items = slices.Clone(items)
	m.restrictLocked(keep)
	switch {
	case len(m.items) == 0:
		m.current = -1
	case m.current < 0:
		// still initial
	default:
		if i := m.indexOfLocked(prevID); i >= 0 {
			m.current = i
		} else {
			m.current = 0
		}
	}
	m.mu.Unlock()

	m.evict(keep)
	m.publish()
	return nil
}

// AppendItems adds items to the end of the list in one step and returns how
// many were added. Items that fail validation or whose id is already present
// are dropped. Existing items, payloads included, are left as they are.
func (m *Manager[T]) AppendItems(items []interfaces.MediaItem[T]) int {
	m.mu.Lock()
	seen := make(map[string]bool, len(m.items)+len(items))
	for _, it := range m.items {
		seen[it.ID] = true
	}
	added := 0
	for _, it := range items {
		if err := it.Validate(); err != nil {
			m.log.Warn("dropping invalid item", "err", err)
			continue
		}
		if seen[it.ID] {
			m.log.Warn("dropping duplicate item", "id", it.ID)
			continue
		}
		seen[it.ID] = true
		m.items = append(m.items, it)
		added++
	}
	m.mu.Unlock()

	if added > 0 {
		m.publish()
	}
	return added
}

// UpdateItemData swaps the payload of item id. The handle map is never
// touched, so playback of the item continues undisturbed.
func (m *Manager[T]) UpdateItemData(id string, payload T) error {
	m.mu.Lock()
	i := m.indexOfLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrItemNotFound, id)
	}
	m.items[i].Payload = payload
	m.mu.Unlock()

	m.publish()
	return nil
}
