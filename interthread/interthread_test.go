package interthread

import (
	"fmt"
	"testing"

	"github.com/rankmesh/tbon/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("test-%s", t.Name())
}

func TestOpenPairsThenRejectsThird(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	_, err = Open(name)
	require.Error(t, err)
	assert.Equal(t, status.Exists, status.CodeOf(err))
}

func TestBidirectionalRequestResponse(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(Msg{Topic: "foo.bar", Payload: []byte("baz")}, 0))
	assert.Equal(t, 1, b.RecvQueueCount())

	req, err := b.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", req.Topic)
	assert.Equal(t, []byte("baz"), req.Payload)
	assert.Empty(t, req.Route, "request has no route stack from an unnamed handle pair")

	require.NoError(t, b.Send(Msg{Topic: req.Topic}, 0))
	resp, err := a.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", resp.Topic)
	assert.Nil(t, resp.Payload)
}

func TestRouterNameAppearsAsRouteLast(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	a.SetRouterName("testrouter")
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(Msg{Topic: "foo.bar"}, 0))
	msg, err := b.Recv(0)
	require.NoError(t, err)
	require.Len(t, msg.Route, 1)
	assert.Equal(t, "testrouter", msg.Route[len(msg.Route)-1])
}

func TestRecvNoBlockWouldBlockWhenEmpty(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	_, err = Open(name)
	require.NoError(t, err)

	_, err = a.Recv(NoBlock)
	require.Error(t, err)
	assert.Equal(t, status.WouldBlock, status.CodeOf(err))
}

func TestSendNoBlockWouldBlockAtPeerHWM(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < b.RecvHWM(); i++ {
		require.NoError(t, a.Send(Msg{Topic: "x"}, NoBlock))
	}
	err = a.Send(Msg{Topic: "overflow"}, NoBlock)
	require.Error(t, err)
	assert.Equal(t, status.WouldBlock, status.CodeOf(err))
}

func TestPollfdEdgeTriggeredAndPolleventsLevel(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, PollOut, a.Pollevents(), "fresh handle has send credit, no data to read")

	require.NoError(t, a.Send(Msg{Topic: "m1"}, 0))
	assert.Equal(t, PollOut|PollIn, b.Pollevents())

	require.NotEqual(t, -1, b.Pollfd(), "pollfd exposes a valid descriptor")
	b.DrainPoll()
	assert.Equal(t, PollOut|PollIn, b.Pollevents(), "draining the edge trigger doesn't change level state")
}

func TestRequeueHead(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(name)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(Msg{Topic: "one"}, 0))
	msg, err := b.Recv(0)
	require.NoError(t, err)

	require.NoError(t, a.Send(Msg{Topic: "two"}, 0))
	require.NoError(t, b.Requeue(msg, Head))

	first, err := b.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, "one", first.Topic)
	second, err := b.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, "two", second.Topic)
}

func TestSendAfterPeerCloseIsConnectionReset(t *testing.T) {
	name := uniqueName(t)
	a, err := Open(name)
	require.NoError(t, err)
	b, err := Open(name)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	err = a.Send(Msg{Topic: "x"}, NoBlock)
	require.Error(t, err)
	assert.Equal(t, status.ConnectionReset, status.CodeOf(err))
	_ = a.Close()
}
