// Package msgchan bridges a relay-side message handle (anything
// reachable through the interthread connector) to a raw kernel socket
// pair, so a subprocess can join the relay's message stream over a
// plain "fd://<int>" descriptor without knowing anything about the
// relay transport on the other end.
//
// The bridge runs entirely on reactor watchers: each side has a read
// watcher that forwards to its peer and a write watcher that only ever
// runs while that side's peer is stalled waiting for it to drain, so
// steady-state traffic never busy-polls.
package msgchan

import (
	"fmt"
	"strings"

	"github.com/rankmesh/tbon/internal/reactor"
	"github.com/rankmesh/tbon/internal/status"
	"github.com/rankmesh/tbon/interthread"
)

// Stats is a per-side counter snapshot, matching §4.F's statistics
// contract: sends, recvs, send_errors, recv_errors, requeue_errors,
// stalls.
type Stats struct {
	Sends         int
	Recvs         int
	SendErrors    int
	RecvErrors    int
	RequeueErrors int
	Stalls        int
}

// watchedHandle is one side of the bridge: a transport plus the pair
// of logical watchers (read/write) the dance in this file starts and
// stops on it. Both sides of a Channel share the same reactor fd
// registration model (one Watcher per fd, mask toggled between PollIn
// and PollOut) rather than two independent watcher objects, since
// internal/reactor only permits a single Watcher per descriptor — the
// toggle achieves the identical start/stop choreography.
type watchedHandle struct {
	t       transport
	loop    *reactor.Loop
	watcher *reactor.Watcher
	readOn  bool
	writeOn bool
	stats   Stats
	peer    *watchedHandle
}

func newWatchedHandle(loop *reactor.Loop, t transport) (*watchedHandle, error) {
	wh := &watchedHandle{t: t, loop: loop, readOn: true}
	w, err := loop.RegisterFD(t.fd(), reactor.PollIn, wh.onEvent)
	if err != nil {
		return nil, status.Wrap(status.Invalid, "msgchan: registering handle watcher", err)
	}
	wh.watcher = w
	return wh, nil
}

// onEvent dispatches a poller wakeup to the read and/or write dance
// steps. A transport's fd reports real, independent POLLIN/POLLOUT
// readiness (the kernel socket side) except for the interthread-backed
// relay side, whose fd is a single notify-only pipe: any wakeup there
// can mean either direction changed, so both steps are attempted
// whenever their logical watcher is armed, rather than gating on which
// OS bit fired.
func (wh *watchedHandle) onEvent(ev reactor.IOEvent) {
	if d, ok := wh.t.(edgeDrainer); ok {
		d.drainPoll()
		if wh.readOn {
			wh.onReadable()
		}
		if wh.writeOn {
			wh.onWritable()
		}
		return
	}
	if wh.readOn && ev.Has(reactor.PollIn) {
		wh.onReadable()
	}
	if wh.writeOn && ev.Has(reactor.PollOut) {
		wh.onWritable()
	}
}

// onReadable implements the read side of the watcher dance: read one
// message, attempt a non-blocking forward to the peer, and on
// peer-would-block requeue it at head, stop reading here, and arm the
// peer's write watcher so it can tell us when to resume.
func (wh *watchedHandle) onReadable() {
	msg, err := wh.t.recvNonBlock()
	if err != nil {
		if status.CodeOf(err) == status.WouldBlock {
			return // spurious wake-up
		}
		wh.stats.RecvErrors++
		return
	}
	if err := wh.peer.t.sendNonBlock(msg); err != nil {
		if status.CodeOf(err) != status.WouldBlock {
			wh.peer.stats.SendErrors++
			return
		}
		if rerr := wh.t.requeueHead(msg); rerr != nil {
			wh.stats.RequeueErrors++
			return
		}
		wh.disableRead()
		wh.peer.enableWrite()
		wh.peer.stats.Stalls++
		return
	}
	wh.stats.Recvs++
	wh.peer.stats.Sends++
}

// onWritable implements the write side: the first writable event means
// this side can accept sends again, so stop watching for it and let
// the peer resume reading.
func (wh *watchedHandle) onWritable() {
	wh.disableWrite()
	wh.peer.enableRead()
}

func (wh *watchedHandle) enableRead() {
	if wh.readOn {
		return
	}
	wh.readOn = true
	wh.syncMask()
}

func (wh *watchedHandle) disableRead() {
	if !wh.readOn {
		return
	}
	wh.readOn = false
	wh.syncMask()
}

func (wh *watchedHandle) enableWrite() {
	if wh.writeOn {
		return
	}
	wh.writeOn = true
	wh.syncMask()
}

func (wh *watchedHandle) disableWrite() {
	if !wh.writeOn {
		return
	}
	wh.writeOn = false
	wh.syncMask()
}

func (wh *watchedHandle) syncMask() {
	// A notify-only pipe fd (the relay side) is never itself POLLOUT-able
	// at the OS level; it only ever needs POLLIN armed, and onEvent
	// re-checks both logical directions on every wakeup regardless.
	if _, edge := wh.t.(edgeDrainer); edge {
		_ = wh.loop.ModifyFD(wh.watcher, reactor.PollIn)
		return
	}
	var mask reactor.IOEvent
	if wh.readOn {
		mask |= reactor.PollIn
	}
	if wh.writeOn {
		mask |= reactor.PollOut
	}
	_ = wh.loop.ModifyFD(wh.watcher, mask)
}

func (wh *watchedHandle) close() error {
	_ = wh.loop.UnregisterFD(wh.watcher)
	return wh.t.close()
}

// Channel is the bridge created by New: a relay-side handle wired to
// one end of a kernel socket pair, with the other end exposed for a
// subprocess to open itself.
type Channel struct {
	relayURI string
	sockURI  string // fd URI of the exposed (subprocess) end

	relay *watchedHandle // internally-owned handle on relayURI
	sock  *watchedHandle // internally-owned handle on sock[0]

	clientFD int // sock[1], exposed but never opened by us
}

// New opens a kernel socket pair, bridges one end to a handle on
// relayURI, and leaves the other end's descriptor and "fd://" URI
// exposed via GetFD/GetURI for a subprocess to join. relayURI must be
// an "interthread://<name>" endpoint (the only message-transport
// scheme this module's core produces).
func New(loop *reactor.Loop, relayURI string) (*Channel, error) {
	if loop == nil || relayURI == "" {
		return nil, status.New(status.Invalid, "msgchan: invalid arguments")
	}
	name, err := parseInterthreadURI(relayURI)
	if err != nil {
		return nil, err
	}
	relayHandle, err := interthread.Open(name)
	if err != nil {
		return nil, status.Wrap(status.Invalid, fmt.Sprintf("msgchan: opening relay uri %q", relayURI), err)
	}

	fd0, fd1, err := newSocketPair()
	if err != nil {
		_ = relayHandle.Close()
		return nil, status.Wrap(status.Invalid, "msgchan: socketpair", err)
	}
	// fd:// connectors synchronously read an auth byte when opened; since
	// both ends of this pair are opened back to back, pre-queue that byte
	// in both directions now so neither open blocks on the other.
	if n, werr := sockWrite(fd0, []byte{0}); werr != nil || n != 1 {
		_ = sockClose(fd0)
		_ = sockClose(fd1)
		_ = relayHandle.Close()
		return nil, status.New(status.Invalid, "msgchan: auth handshake write to socketpair failed")
	}
	if n, werr := sockWrite(fd1, []byte{0}); werr != nil || n != 1 {
		_ = sockClose(fd0)
		_ = sockClose(fd1)
		_ = relayHandle.Close()
		return nil, status.New(status.Invalid, "msgchan: auth handshake write to socketpair failed")
	}

	sockT, err := newSocketTransport(fd0)
	if err != nil {
		_ = sockClose(fd0)
		_ = sockClose(fd1)
		_ = relayHandle.Close()
		return nil, err
	}

	relayWH, err := newWatchedHandle(loop, &relayTransport{h: relayHandle})
	if err != nil {
		_ = sockT.close()
		_ = sockClose(fd1)
		_ = relayHandle.Close()
		return nil, err
	}
	sockWH, err := newWatchedHandle(loop, sockT)
	if err != nil {
		_ = relayWH.close()
		_ = sockClose(fd1)
		return nil, err
	}
	relayWH.peer = sockWH
	sockWH.peer = relayWH

	return &Channel{
		relayURI: relayURI,
		sockURI:  fmt.Sprintf("fd://%d", fd1),
		relay:    relayWH,
		sock:     sockWH,
		clientFD: fd1,
	}, nil
}

// GetURI returns the "fd://<int>" URI for the subprocess side: the
// socket-pair end this Channel never opens itself.
func (c *Channel) GetURI() string { return c.sockURI }

// GetFD returns the raw descriptor for the subprocess side. The
// caller is responsible for making it available to the child (e.g.
// leaving it open across fork/exec) and for closing its own reference.
func (c *Channel) GetFD() int { return c.clientFD }

// GetStats returns a snapshot of both sides' counters, keyed by the
// URI each handle was opened on.
func (c *Channel) GetStats() map[string]Stats {
	return map[string]Stats{
		c.relayURI: c.relay.stats,
		fmt.Sprintf("fd://%d", c.sock.t.fd()): c.sock.stats,
	}
}

// Close tears down both internally-owned handles and the socket pair.
// It does not touch the exposed client descriptor's peer end beyond
// closing the shared kernel object; a caller that opened its own
// client-side handle on GetURI()/GetFD() must close that separately.
func (c *Channel) Close() error {
	var err error
	if e := c.relay.close(); e != nil && err == nil {
		err = e
	}
	if e := c.sock.close(); e != nil && err == nil {
		err = e
	}
	if e := sockClose(c.clientFD); e != nil && err == nil {
		err = e
	}
	return err
}

func parseInterthreadURI(uri string) (string, error) {
	const scheme = "interthread://"
	if !strings.HasPrefix(uri, scheme) {
		return "", status.Newf(status.Invalid, "msgchan: relay uri %q is not an interthread:// endpoint", uri)
	}
	name := strings.TrimPrefix(uri, scheme)
	if name == "" {
		return "", status.New(status.Invalid, "msgchan: relay uri missing name")
	}
	return name, nil
}
