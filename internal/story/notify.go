package story

import "sync"

// ChangeKind describes what happened to a registry entity.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Entity names used in change events.
const (
	EntitySite        = "site"
	EntityStoryFolder = "story_folder"
	EntityAsset       = "asset"
)

// ChangeEvent is published after a registry mutation commits.
type ChangeEvent struct {
	Kind   ChangeKind
	Entity string
	ID     string
}

// Notifier fans change events out to registered observers.
// It is safe for concurrent use. Observers run synchronously on the
// publishing goroutine and must not block.
type Notifier struct {
	mu        sync.Mutex
	nextID    int
	observers map[int]func(ChangeEvent)
}

// NewNotifier creates a Notifier with no observers.
func NewNotifier() *Notifier {
	return &Notifier{observers: make(map[int]func(ChangeEvent))}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (n *Notifier) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.observers[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.observers, id)
	}
}

// Publish delivers ev to every current observer.
func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.Lock()
	fns := make([]func(ChangeEvent), 0, len(n.observers))
	for _, fn := range n.observers {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
