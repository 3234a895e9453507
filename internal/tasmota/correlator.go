package tasmota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// route is a registered interest in inbound status messages.
type route interface {
	// offer inspects a message. matched reports that the route consumed it;
	// done reports that the route wants no further messages.
	offer(topic string, payload []byte) (matched, done bool)

	// cancel ends the route because the correlator is closing.
	cancel()
}

// publishFunc sends one message to the broker.
type publishFunc func(topic string, payload []byte) error

// correlator matches inbound status messages to outstanding queries.
//
// Every route sees every message, so any number of queries may be in
// flight at once, including several for the same device and kind: one
// reply completes all of them. Routes are removed as soon as they are done,
// when their caller gives up, or when the correlator closes.
type correlator struct {
	topics  Topics
	publish publishFunc
	logger  Logger

	mu     sync.Mutex
	routes map[uint64]route
	nextID uint64
	closed bool
}

func newCorrelator(topics Topics, publish publishFunc, logger Logger) *correlator {
	return &correlator{
		topics:  topics,
		publish: publish,
		logger:  logger,
		routes:  make(map[uint64]route),
	}
}

// register adds r and returns its key. It fails once the correlator is closed.
func (c *correlator) register(r route) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	c.nextID++
	c.routes[c.nextID] = r
	return c.nextID, nil
}

// deregister removes a route. Removing an unknown key is a no-op.
func (c *correlator) deregister(key uint64) {
	c.mu.Lock()
	r, ok := c.routes[key]
	delete(c.routes, key)
	c.mu.Unlock()

	if ok {
		r.cancel()
	}
}

// pending returns the number of registered routes.
func (c *correlator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

// dispatch offers a message to every route and returns how many matched.
// Offers never block, so the lock is held throughout.
func (c *correlator) dispatch(topic string, payload []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := 0
	for key, r := range c.routes {
		ok, done := r.offer(topic, payload)
		if ok {
			matched++
		}
		if done {
			delete(c.routes, key)
		}
	}
	return matched
}

// close cancels every route. In-flight asks return ErrClosed.
func (c *correlator) close() {
	c.mu.Lock()
	routes := c.routes
	c.routes = make(map[uint64]route)
	c.closed = true
	c.mu.Unlock()

	for _, r := range routes {
		r.cancel()
	}
}

// ask publishes a query and waits for the first matching reply.
//
// Whichever of reply, timeout, cancellation or close happens first decides
// the result; the others are ignored. The query is deregistered before ask
// returns, on every path.
func (c *correlator) ask(ctx context.Context, device DeviceID, kind Kind, timeout time.Duration) (json.RawMessage, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}
	if err := validateCommand(kind); err != nil {
		return nil, err
	}

	q := newPendingQuery(c.topics, device, kind)
	key, err := c.register(q)
	if err != nil {
		return nil, err
	}
	defer c.deregister(key)

	topic, payload := c.topics.EncodeQuery(device, kind)
	if err := c.publish(topic, payload); err != nil {
		return nil, fmt.Errorf("%w: publishing %s: %w", ErrTransport, topic, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-q.result:
		return res.value, res.err
	case <-timer.C:
		q.complete(queryResult{err: fmt.Errorf("%w: %s %s after %v", ErrTimeout, device, kind.Command, timeout)})
	case <-ctx.Done():
		q.complete(queryResult{err: ctx.Err()})
	}

	// A reply may have won the race; the slot holds whichever came first.
	res := <-q.result
	if res.err != nil {
		c.logger.Debug("query abandoned", "device", device, "command", kind.Command, "error", res.err)
	}
	return res.value, res.err
}

// listen registers a stream route for every message on device's reply topic
// for kind. The mailbox is closed when the route is deregistered or the
// correlator closes.
func (c *correlator) listen(device DeviceID, kind Kind) (uint64, *mailbox[[]byte], error) {
	l := &listener{
		topics: c.topics,
		device: device,
		kind:   kind,
		box:    newMailbox[[]byte](),
	}
	key, err := c.register(l)
	if err != nil {
		return 0, nil, err
	}
	return key, l.box, nil
}

// queryResult is the single outcome of a pending query.
type queryResult struct {
	value json.RawMessage
	err   error
}

// pendingQuery waits for one reply. complete may be called from the
// dispatch goroutine, the timer path and close; only the first call
// fills the slot.
type pendingQuery struct {
	topics Topics
	device DeviceID
	kind   Kind

	once   sync.Once
	result chan queryResult
}

func newPendingQuery(topics Topics, device DeviceID, kind Kind) *pendingQuery {
	return &pendingQuery{
		topics: topics,
		device: device,
		kind:   kind,
		result: make(chan queryResult, 1),
	}
}

func (q *pendingQuery) complete(res queryResult) bool {
	first := false
	q.once.Do(func() {
		q.result <- res
		first = true
	})
	return first
}

func (q *pendingQuery) offer(topic string, payload []byte) (bool, bool) {
	value, ok := q.topics.DecodeReply(topic, payload, q.device, q.kind)
	if !ok {
		return false, false
	}
	q.complete(queryResult{value: value})
	return true, true
}

func (q *pendingQuery) cancel() {
	q.complete(queryResult{err: ErrClosed})
}

// listener forwards every message on one device's reply topic.
type listener struct {
	topics Topics
	device DeviceID
	kind   Kind
	box    *mailbox[[]byte]
}

func (l *listener) offer(topic string, payload []byte) (bool, bool) {
	if !l.topics.MatchesReply(topic, l.device, l.kind) {
		return false, false
	}
	l.box.put(bytes.Clone(payload))
	return true, false
}

func (l *listener) cancel() {
	l.box.close()
}
