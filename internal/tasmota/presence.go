package tasmota

import (
	"slices"
	"sync"
)

// presenceTracker turns the level-triggered last-will stream into
// Added/Removed edges and fans them out to subscribers.
//
// Thread Safety: all methods are safe for concurrent use. Subscribers are
// fed through unbounded mailboxes while the lock is held, so every
// subscriber observes events in the order they were applied and a
// snapshot taken by subscribe is never interleaved with a live event.
type presenceTracker struct {
	topics Topics
	logger Logger

	mu          sync.Mutex
	online      map[DeviceID]struct{}
	subscribers map[uint64]*mailbox[DeviceUpdate]
	nextID      uint64
	closed      bool
}

func newPresenceTracker(topics Topics, logger Logger) *presenceTracker {
	return &presenceTracker{
		topics:      topics,
		logger:      logger,
		online:      make(map[DeviceID]struct{}),
		subscribers: make(map[uint64]*mailbox[DeviceUpdate]),
	}
}

// handle applies a raw message. Messages that are not presence messages
// are ignored.
func (p *presenceTracker) handle(topic string, payload []byte) (DeviceUpdate, bool) {
	device, state, ok := p.topics.DecodePresence(topic, payload)
	if !ok {
		return DeviceUpdate{}, false
	}
	return p.apply(device, state)
}

// apply records a device's state and returns the event it produced, if any.
// Repeating the current state produces nothing.
func (p *presenceTracker) apply(device DeviceID, state PresenceState) (DeviceUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return DeviceUpdate{}, false
	}

	_, known := p.online[device]
	var update DeviceUpdate
	switch {
	case state == Online && !known:
		p.online[device] = struct{}{}
		update = DeviceUpdate{Kind: Added, Device: device}
	case state == Offline && known:
		delete(p.online, device)
		update = DeviceUpdate{Kind: Removed, Device: device}
	default:
		return DeviceUpdate{}, false
	}

	for _, box := range p.subscribers {
		box.put(update)
	}

	p.logger.Debug("device presence changed", "device", device, "event", update.Kind.String())
	return update, true
}

// snapshot returns the online devices in sorted order.
func (p *presenceTracker) snapshot() []DeviceID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedLocked()
}

func (p *presenceTracker) sortedLocked() []DeviceID {
	devices := make([]DeviceID, 0, len(p.online))
	for device := range p.online {
		devices = append(devices, device)
	}
	slices.Sort(devices)
	return devices
}

// isOnline reports whether device is currently online.
func (p *presenceTracker) isOnline(device DeviceID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[device]
	return ok
}

// subscribe registers a subscriber. Its mailbox starts with an Added event
// for every device online at this instant, followed by live events.
// After close the returned mailbox is already closed.
func (p *presenceTracker) subscribe() (uint64, *mailbox[DeviceUpdate]) {
	box := newMailbox[DeviceUpdate]()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		box.close()
		return 0, box
	}

	for _, device := range p.sortedLocked() {
		box.put(DeviceUpdate{Kind: Added, Device: device})
	}

	p.nextID++
	id := p.nextID
	p.subscribers[id] = box
	return id, box
}

// unsubscribe removes a subscriber and closes its mailbox.
func (p *presenceTracker) unsubscribe(id uint64) {
	p.mu.Lock()
	box, ok := p.subscribers[id]
	delete(p.subscribers, id)
	p.mu.Unlock()

	if ok {
		box.close()
	}
}

// subscriberCount returns the number of live subscribers.
func (p *presenceTracker) subscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

// close ends every subscription. Later messages are ignored.
func (p *presenceTracker) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, box := range p.subscribers {
		box.close()
		delete(p.subscribers, id)
	}
}
