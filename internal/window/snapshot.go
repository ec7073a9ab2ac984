package window

import (
	"sync"

	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// Snapshot is the published, immutable state of a window. Consumers must
// not mutate the Items slice or the Handles map.
type Snapshot[T any] struct {
	Seq           uint64
	CurrentIndex  int
	CurrentItemID string
	Handles       map[string]interfaces.Handle
	Items         []interfaces.MediaItem[T]
	IsPlaying     bool
	IsMuted       bool
	IsExpanded    bool
}

// Initial reports whether no current index has been set yet.
func (s Snapshot[T]) Initial() bool {
	return s.CurrentIndex < 0
}

// HandleFor returns the published handle for id.
func (s Snapshot[T]) HandleFor(id string) (interfaces.Handle, bool) {
	h, ok := s.Handles[id]
	return h, ok
}

// publisher fans snapshots out to subscribers. Each subscriber channel
// holds at most one value; a newer snapshot replaces an unread one.
type publisher[T any] struct {
	mu     sync.Mutex
	seq    uint64
	latest Snapshot[T]
	subs   map[int]chan Snapshot[T]
	nextID int
	closed bool
}

func newPublisher[T any]() *publisher[T] {
	return &publisher[T]{
		latest: Snapshot[T]{CurrentIndex: -1},
		subs:   make(map[int]chan Snapshot[T]),
	}
}

// publish must be called with p.mu held.
func (p *publisher[T]) publish(s Snapshot[T]) {
	if p.closed {
		return
	}
	p.seq++
	s.Seq = p.seq
	p.latest = s
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (p *publisher[T]) snapshot() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *publisher[T]) subscribe() (<-chan Snapshot[T], func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot[T], 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	ch <- p.latest

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

func (p *publisher[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
