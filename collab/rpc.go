package collab

import (
	"context"
	"time"

	"github.com/rankmesh/tbon/future"
	"github.com/rankmesh/tbon/internal/reactor"
	"github.com/rankmesh/tbon/internal/status"
	"github.com/rankmesh/tbon/interthread"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// RPCHandler processes one inbound call's payload and returns the
// response payload or an error. On an error, Serve replies with an
// empty payload: the caller's future fulfills ok with an empty value,
// and the reply carries no error code.
type RPCHandler func(ctx context.Context, payload []byte) ([]byte, error)

// RPCClient issues rpc_call requests over an interthread handle to a
// single peer, and satisfies grpc.ClientConnInterface so generated
// service stubs can be pointed at it directly — grounded conceptually
// on inprocgrpc's in-process grpc.ClientConnInterface, rewritten over
// interthread's credit-flow transport rather than carrying
// inprocgrpc's own internal/transport package, which assumes a
// substrate this module doesn't have.
type RPCClient struct {
	h    *interthread.Handle
	loop *reactor.Loop
}

// NewRPCClient builds a client that calls peer over h, using loop to
// drive the future each Call returns until its response arrives.
func NewRPCClient(h *interthread.Handle, loop *reactor.Loop) *RPCClient {
	return &RPCClient{h: h, loop: loop}
}

// Call sends method/payload as a request and returns a future resolved
// with the response payload (rpc_call(peer, method, payload) →
// future<payload>). Correlation is by topic (method name): the first
// reply carrying the same topic completes the future, matching the
// simple request/response shape spec'd for the core's needs.
func (c *RPCClient) Call(method string, payload []byte) *future.Future {
	f := future.New(c.loop, nil)
	if err := c.h.Send(interthread.Msg{Topic: method, Payload: payload}, interthread.NoBlock); err != nil {
		_ = f.FulfillError(status.CodeOf(err))
		return f
	}

	var watcher *reactor.Watcher
	onReady := func(reactor.IOEvent) {
		c.h.DrainPoll()
		for {
			resp, err := c.h.Recv(interthread.NoBlock)
			if err != nil {
				return // nothing ready yet; wait for the next signal
			}
			if resp.Topic != method {
				continue // not this call's reply; no correlation id in this model
			}
			_ = c.loop.UnregisterFD(watcher)
			_ = f.Fulfill(resp.Payload, nil)
			return
		}
	}
	w, err := c.loop.RegisterFD(c.h.Pollfd(), reactor.PollIn, onReady)
	if err != nil {
		_ = f.FulfillError(status.Invalid)
		return f
	}
	watcher = w
	return f
}

// Invoke implements grpc.ClientConnInterface, marshaling args with
// protobuf, blocking (by pumping this client's reactor) until a
// response arrives or ctx is done, and unmarshaling into reply.
func (c *RPCClient) Invoke(ctx context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	var payload []byte
	if m, ok := args.(proto.Message); ok {
		b, err := proto.Marshal(m)
		if err != nil {
			return err
		}
		payload = b
	}

	f := c.Call(method, payload)
	if err := waitFutureWithContext(ctx, c.loop, f); err != nil {
		return err
	}
	v, err := f.Get()
	if err != nil {
		return err
	}
	respBytes, _ := v.([]byte)
	if reply != nil {
		if m, ok := reply.(proto.Message); ok {
			return proto.Unmarshal(respBytes, m)
		}
	}
	return nil
}

// NewStream is unsupported: the core's RPC contract is unary
// request/response only (rpc_call / rpc_register), so
// grpc.ClientConnInterface's streaming half has no backing semantics
// to implement here.
func (c *RPCClient) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.New(status.Invalid, "collab: streaming rpc is not supported")
}

// waitFutureWithContext pumps loop until f is ready or ctx is done.
// future.WaitFor can't be used directly here: it treats any
// timeoutSec<=0 as "wait forever", so it has no way to express an
// already-expired deadline, and it has no way to observe a
// context.CancelFunc cancellation at all.
func waitFutureWithContext(ctx context.Context, loop *reactor.Loop, f *future.Future) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// A deadline-less RunOnce can block indefinitely waiting for fd/timer
	// activity; arm a no-op timer at ctx's deadline (if any) purely to
	// force a wakeup so ctx.Err() gets rechecked promptly.
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			id := loop.AfterFunc(d, func() {})
			defer loop.CancelTimer(id)
		}
	}
	for !f.IsReady() {
		if err := loop.RunOnce(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// RPCServer dispatches inbound requests on a handle to registered
// method handlers and sends back the handler's response payload under
// the same topic.
type RPCServer struct {
	loop     *reactor.Loop
	handlers map[string]RPCHandler
}

// NewRPCServer constructs an empty server bound to loop.
func NewRPCServer(loop *reactor.Loop) *RPCServer {
	return &RPCServer{loop: loop, handlers: make(map[string]RPCHandler)}
}

// Register binds service to handler (rpc_register(service, handler)).
// Registering an already-bound service name fails with Exists.
func (s *RPCServer) Register(service string, handler RPCHandler) error {
	if _, exists := s.handlers[service]; exists {
		return status.Newf(status.Exists, "collab: rpc service %q already registered", service)
	}
	s.handlers[service] = handler
	return nil
}

// Serve arms a read watcher on h that dispatches every inbound request
// to its registered handler, replying on the same handle. A request
// for an unregistered method gets an empty reply under the same topic;
// like a handler error, it carries no error code.
func (s *RPCServer) Serve(h *interthread.Handle) error {
	onReady := func(reactor.IOEvent) {
		h.DrainPoll()
		for {
			req, err := h.Recv(interthread.NoBlock)
			if err != nil {
				return
			}
			handler, ok := s.handlers[req.Topic]
			if !ok {
				_ = h.Send(interthread.Msg{Topic: req.Topic}, interthread.NoBlock)
				continue
			}
			resp, herr := handler(context.Background(), req.Payload)
			if herr != nil {
				_ = h.Send(interthread.Msg{Topic: req.Topic}, interthread.NoBlock)
				continue
			}
			_ = h.Send(interthread.Msg{Topic: req.Topic, Payload: resp}, interthread.NoBlock)
		}
	}
	_, err := s.loop.RegisterFD(h.Pollfd(), reactor.PollIn, onReady)
	if err != nil {
		return status.Wrap(status.Invalid, "collab: registering rpc server watcher", err)
	}
	return nil
}
