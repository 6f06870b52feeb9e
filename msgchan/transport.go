package msgchan

import (
	"encoding/binary"
	"encoding/json"

	"github.com/rankmesh/tbon/internal/status"
	"github.com/rankmesh/tbon/interthread"
)

// transport is the minimal non-blocking message primitive both sides of
// a channel speak: the relay side (backed by an interthread.Handle) and
// the subprocess side (backed by a raw kernel socket). Bridging the two
// only ever needs these five operations.
type transport interface {
	fd() int
	recvNonBlock() (interthread.Msg, error)
	sendNonBlock(msg interthread.Msg) error
	requeueHead(msg interthread.Msg) error
	close() error
}

// edgeDrainer is implemented by transports whose fd is an edge-triggered
// notifier rather than the readiness signal itself (relayTransport's
// interthread.Handle); watchedHandle drains it once per dispatch so the
// next state change can signal again instead of leaving the poller
// re-reporting readiness on a level-triggered backend.
type edgeDrainer interface {
	drainPoll()
}

// relayTransport adapts an interthread.Handle to transport. It is the
// "second handle... on the supplied relay URI" side of the adapter.
type relayTransport struct {
	h *interthread.Handle
}

func (t *relayTransport) fd() int { return t.h.Pollfd() }

func (t *relayTransport) recvNonBlock() (interthread.Msg, error) {
	return t.h.Recv(interthread.NoBlock)
}

func (t *relayTransport) sendNonBlock(msg interthread.Msg) error {
	return t.h.Send(msg, interthread.NoBlock)
}

func (t *relayTransport) requeueHead(msg interthread.Msg) error {
	return t.h.Requeue(msg, interthread.Head)
}

func (t *relayTransport) close() error { return t.h.Close() }

func (t *relayTransport) drainPoll() { t.h.DrainPoll() }

// wireMsg is the frame body written to the kernel socket: a 4-byte
// big-endian length prefix followed by this JSON document. interthread
// routing metadata rides along so a message can cross the socket
// boundary and still carry its route stack on the far side.
type wireMsg struct {
	Topic   string   `json:"topic"`
	Payload []byte   `json:"payload,omitempty"`
	Route   []string `json:"route,omitempty"`
}

func encodeFrame(msg interthread.Msg) []byte {
	body, _ := json.Marshal(wireMsg{Topic: msg.Topic, Payload: msg.Payload, Route: msg.Route})
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

// tryParseFrame attempts to pull one complete frame off the front of
// buf, returning the decoded message and the unconsumed remainder.
func tryParseFrame(buf []byte) (interthread.Msg, []byte, bool) {
	if len(buf) < 4 {
		return interthread.Msg{}, buf, false
	}
	n := binary.BigEndian.Uint32(buf)
	if uint32(len(buf)-4) < n {
		return interthread.Msg{}, buf, false
	}
	var wm wireMsg
	if err := json.Unmarshal(buf[4:4+n], &wm); err != nil {
		return interthread.Msg{}, buf[4+n:], false
	}
	return interthread.Msg{Topic: wm.Topic, Payload: wm.Payload, Route: wm.Route}, buf[4+n:], true
}

// socketTransport is the kernel-socket side: a raw non-blocking
// descriptor speaking the length-prefixed JSON frame above. One
// partially-written frame may be pending at a time; sendNonBlock
// refuses new work until it drains so message boundaries are never
// interleaved.
type socketTransport struct {
	descriptor int
	rbuf       []byte
	wbuf       []byte
}

func newSocketTransport(fd int) (*socketTransport, error) {
	t := &socketTransport{descriptor: fd}
	if err := t.consumeHandshakeByte(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *socketTransport) fd() int { return t.descriptor }

func (t *socketTransport) recvNonBlock() (interthread.Msg, error) {
	for {
		if msg, rest, ok := tryParseFrame(t.rbuf); ok {
			t.rbuf = rest
			return msg, nil
		}
		buf := make([]byte, 4096)
		n, err := sockRead(t.descriptor, buf)
		if err != nil {
			if err == errWouldBlock {
				return interthread.Msg{}, status.New(status.WouldBlock, "msgchan: socket recv queue empty")
			}
			return interthread.Msg{}, status.Wrap(status.ConnectionReset, "msgchan: socket read failed", err)
		}
		if n == 0 {
			return interthread.Msg{}, status.New(status.ConnectionReset, "msgchan: socket peer closed")
		}
		t.rbuf = append(t.rbuf, buf[:n]...)
	}
}

func (t *socketTransport) sendNonBlock(msg interthread.Msg) error {
	if len(t.wbuf) > 0 {
		if err := t.flushPending(); err != nil {
			return err
		}
		if len(t.wbuf) > 0 {
			return status.New(status.WouldBlock, "msgchan: socket send buffer still draining")
		}
	}
	t.wbuf = encodeFrame(msg)
	return t.flushPending()
}

func (t *socketTransport) flushPending() error {
	n, err := sockWrite(t.descriptor, t.wbuf)
	if err != nil {
		if err == errWouldBlock {
			return status.New(status.WouldBlock, "msgchan: socket send would block")
		}
		return status.Wrap(status.ConnectionReset, "msgchan: socket write failed", err)
	}
	t.wbuf = t.wbuf[n:]
	if len(t.wbuf) > 0 {
		return status.New(status.WouldBlock, "msgchan: socket send partially buffered")
	}
	return nil
}

// requeueHead pushes msg back to the front of the read buffer by
// re-encoding it ahead of whatever's already pending. This is only
// ever called with a message this transport itself just decoded, so
// re-framing it is exact and cheap.
func (t *socketTransport) requeueHead(msg interthread.Msg) error {
	t.rbuf = append(encodeFrame(msg), t.rbuf...)
	return nil
}

func (t *socketTransport) close() error { return sockClose(t.descriptor) }

// consumeHandshakeByte performs this Channel's own (internally opened)
// side of the one-byte auth handshake: New already wrote one zero byte
// into each end of the pair before any watcher was armed, so this read
// succeeds immediately without ever blocking.
func (t *socketTransport) consumeHandshakeByte() error {
	var b [1]byte
	n, err := sockRead(t.descriptor, b[:])
	if err != nil || n != 1 {
		return status.Wrap(status.Invalid, "msgchan: auth handshake read failed", err)
	}
	return nil
}
