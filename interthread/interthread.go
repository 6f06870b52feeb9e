// Package interthread implements the in-process, credit-flow-controlled
// message connector that bridges a worker thread (or any goroutine)
// into a broker's single reactor goroutine. Opening the same name
// twice pairs two Handles as peers; sends and receives are FIFO per
// direction and self-limiting via a credit pool equal to the peer's
// free receive-queue space, exactly as spec'd for the "interthread://"
// endpoint scheme.
package interthread

import (
	"os"
	"sync"

	"github.com/rankmesh/tbon/internal/status"
)

// SelfPeerName is reported by Msg.RouteLast for a message from a
// handle that has not set its own router name via SetRouterName.
const SelfPeerName = "self-peer-name"

// IOEvent mirrors reactor.IOEvent's bit values so pollevents results
// can be passed straight through to a reactor.Watcher without
// translation.
type IOEvent uint32

const (
	PollIn IOEvent = 1 << iota
	PollOut
	PollErr
)

// Flags controls Send/Recv blocking behavior.
type Flags int

const (
	// NoBlock makes Send return WouldBlock instead of waiting for
	// credit, and Recv return WouldBlock instead of waiting for a
	// message.
	NoBlock Flags = 1 << iota
)

// RequeuePosition selects where Requeue reinserts a message.
type RequeuePosition int

const (
	Head RequeuePosition = iota
	Tail
)

// Msg is the opaque unit exchanged over an interthread channel.
type Msg struct {
	Topic   string
	Payload []byte
	// Route records router names pushed by intermediate handles, most
	// recent last (route-last is Route[len(Route)-1]).
	Route []string
}

const defaultHWM = 256

type endpoint struct {
	recvQ   []Msg
	recvHWM int
}

// channel is the shared pair state; both Handles in a pair act through
// the same mutex/cond so a send on one side and a recv on the other
// never race.
type channel struct {
	mu   sync.Mutex
	cond *sync.Cond

	a, b    *endpoint
	handleA *Handle
	handleB *Handle
	aClosed bool
	bClosed bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*channel{}
)

// Handle is one side of a paired interthread channel.
type Handle struct {
	ch         *channel
	self, peer *endpoint
	name       string
	routerName string
	notifier   *notifier

	sendCount, recvCount int
}

// Open binds to name, pairing with a previous unpaired Open of the
// same name. A third Open of an already-paired name fails with Exists
// ("address in use").
func Open(name string) (*Handle, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	ch, ok := registry[name]
	if !ok {
		ch = &channel{a: &endpoint{recvHWM: defaultHWM}, b: &endpoint{recvHWM: defaultHWM}}
		ch.cond = sync.NewCond(&ch.mu)
		registry[name] = ch
	}

	n, err := newNotifier()
	if err != nil {
		return nil, status.Wrap(status.Invalid, "interthread: creating poll notifier", err)
	}

	switch {
	case ch.handleA == nil:
		h := &Handle{ch: ch, self: ch.a, peer: ch.b, name: name, notifier: n}
		ch.handleA = h
		return h, nil
	case ch.handleB == nil:
		h := &Handle{ch: ch, self: ch.b, peer: ch.a, name: name, notifier: n}
		ch.handleB = h
		return h, nil
	default:
		_ = n.close()
		return nil, status.Newf(status.Exists, "interthread: %q: address in use", name)
	}
}

// SetRouterName tags outgoing requests from h with name as a routing
// stack entry; the peer observes it as the route-last identifier.
func (h *Handle) SetRouterName(name string) { h.routerName = name }

// RouteLast returns the most recent entry of m's route stack, or
// SelfPeerName when the stack is empty (the sender had no router name).
func (m Msg) RouteLast() string {
	if len(m.Route) > 0 {
		return m.Route[len(m.Route)-1]
	}
	return SelfPeerName
}

// Send enqueues msg for the peer, pushing h's router name onto its
// route stack when one is set (an unnamed handle pushes nothing).
// Returns WouldBlock (NoBlock flag) or blocks until the peer has
// free receive-queue space ("credit").
func (h *Handle) Send(msg Msg, flags Flags) error {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()

	if h.ch.isClosed(h.peer) {
		return status.New(status.ConnectionReset, "interthread: peer closed")
	}
	for h.credits() <= 0 {
		if flags&NoBlock != 0 {
			return status.New(status.WouldBlock, "interthread: send queue at peer hwm")
		}
		h.ch.cond.Wait()
		if h.ch.isClosed(h.peer) {
			return status.New(status.ConnectionReset, "interthread: peer closed")
		}
	}
	if h.routerName != "" {
		msg.Route = append(append([]string(nil), msg.Route...), h.routerName)
	}
	h.peer.recvQ = append(h.peer.recvQ, msg)
	h.sendCount++
	h.ch.cond.Broadcast()
	h.peerHandle().notifier.signal()
	return nil
}

// Recv dequeues the next message for h. Returns WouldBlock (NoBlock
// flag) or blocks until one arrives.
func (h *Handle) Recv(flags Flags) (Msg, error) {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()

	for len(h.self.recvQ) == 0 {
		if flags&NoBlock != 0 {
			return Msg{}, status.New(status.WouldBlock, "interthread: recv queue empty")
		}
		if h.ch.isClosed(h.peer) {
			return Msg{}, status.New(status.ConnectionReset, "interthread: peer closed")
		}
		h.ch.cond.Wait()
	}
	msg := h.self.recvQ[0]
	h.self.recvQ = h.self.recvQ[1:]
	h.recvCount++
	h.ch.cond.Broadcast()
	h.peerHandle().notifier.signal() // peer just gained a send credit
	return msg, nil
}

// Requeue pushes msg back onto h's own receive queue at pos, failing
// with NoSpace if the queue is already at its high-water mark.
func (h *Handle) Requeue(msg Msg, pos RequeuePosition) error {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	if len(h.self.recvQ) >= h.self.recvHWM {
		return status.New(status.NoSpace, "interthread: recv queue at hwm")
	}
	switch pos {
	case Head:
		h.self.recvQ = append([]Msg{msg}, h.self.recvQ...)
	default:
		h.self.recvQ = append(h.self.recvQ, msg)
	}
	h.ch.cond.Broadcast()
	h.notifier.signal()
	return nil
}

// credits returns the caller's remaining send credits: the peer's free
// receive-queue space. Must be called with ch.mu held.
func (h *Handle) credits() int {
	return h.peer.recvHWM - len(h.peer.recvQ)
}

func (h *Handle) peerHandle() *Handle {
	if h.ch.handleA == h {
		return h.ch.handleB
	}
	return h.ch.handleA
}

func (c *channel) isClosed(ep *endpoint) bool {
	if c.a == ep {
		return c.aClosed
	}
	return c.bClosed
}

// Pollfd returns a process-local fd that becomes readable, edge
// triggered, whenever Pollevents should be re-examined. Callers must
// drain it (DrainPoll) after checking Pollevents to re-arm it for the
// next state change.
func (h *Handle) Pollfd() int { return h.notifier.fd() }

// DrainPoll clears the readability of Pollfd; call after reacting to
// it so the next state change can signal again.
func (h *Handle) DrainPoll() { h.notifier.drain() }

// Pollevents computes the current level-triggered readiness bitset.
// Unlike Pollfd, this is always safe to call and never consumes state.
func (h *Handle) Pollevents() IOEvent {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	var e IOEvent
	if len(h.self.recvQ) > 0 {
		e |= PollIn
	}
	if h.credits() > 0 {
		e |= PollOut
	}
	return e
}

// SendQueueCount, RecvQueueCount, SendHWM, RecvHWM expose the counters
// documented as options in spec §6.
func (h *Handle) SendQueueCount() int {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	return len(h.peer.recvQ)
}
func (h *Handle) RecvQueueCount() int {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	return len(h.self.recvQ)
}
func (h *Handle) SendHWM() int { return h.peer.recvHWM }
func (h *Handle) RecvHWM() int { return h.self.recvHWM }

// Close marks h's side of the pair closed, waking any blocked peer
// with ConnectionReset, and frees the name for reuse once both sides
// have closed.
func (h *Handle) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	h.ch.mu.Lock()
	if h.ch.a == h.self {
		h.ch.aClosed = true
	} else {
		h.ch.bClosed = true
	}
	h.ch.cond.Broadcast()
	bothClosed := h.ch.aClosed && h.ch.bClosed
	h.ch.mu.Unlock()

	_ = h.notifier.close()
	if bothClosed {
		delete(registry, h.name)
	}
	return nil
}

type notifier struct {
	r, w    *os.File
	mu      sync.Mutex
	pending bool
}

func newNotifier() (*notifier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &notifier{r: r, w: w}, nil
}

func (n *notifier) signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending {
		return
	}
	n.pending = true
	_, _ = n.w.Write([]byte{1})
}

func (n *notifier) drain() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.pending {
		return
	}
	var b [1]byte
	_, _ = n.r.Read(b[:])
	n.pending = false
}

func (n *notifier) fd() int { return int(n.r.Fd()) }

func (n *notifier) close() error {
	err := n.r.Close()
	if e := n.w.Close(); e != nil && err == nil {
		err = e
	}
	return err
}
