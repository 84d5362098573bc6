package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/code-craka/visa-manager-app-sub001/internal/core/errors"
)

func TestConnection_InboundPingGetsPong(t *testing.T) {
	registry := newTestRegistry(0)
	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	before := time.Now().Add(-time.Minute)
	conn.touch(before)

	conn.handleInbound([]byte(`{"type":"ping"}`))

	envs := queuedEnvelopes(t, conn)
	require.Len(t, envs, 1)
	assert.Equal(t, "pong", string(envs[0].Type))
	assert.True(t, conn.LastLiveness().After(before), "inbound frames must refresh liveness")
}

func TestConnection_InboundPongOnlyRefreshesLiveness(t *testing.T) {
	registry := newTestRegistry(0)
	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	before := time.Now().Add(-time.Minute)
	conn.touch(before)

	conn.handleInbound([]byte(`{"type":"pong"}`))

	assert.Empty(t, queuedEnvelopes(t, conn), "a pong must not be answered")
	assert.True(t, conn.LastLiveness().After(before))
}

func TestConnection_InboundGarbageIsIgnored(t *testing.T) {
	registry := newTestRegistry(0)
	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		conn.handleInbound([]byte(`not json`))
		conn.handleInbound([]byte(`{"type":"subscribe","data":{"topic":"x"}}`))
	})

	assert.Empty(t, queuedEnvelopes(t, conn))
	assert.Equal(t, 1, registry.Stats().TotalConnections, "unknown frames must not drop the connection")
}

func TestConnection_EnqueueBufferFull(t *testing.T) {
	registry := NewRegistry(RegistryConfig{SendBufferSize: 1}, testLogger(), nil)
	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	require.NoError(t, conn.enqueue([]byte(`{}`)))
	assert.ErrorIs(t, conn.enqueue([]byte(`{}`)), apperrors.ErrSendBufferFull)
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	registry := newTestRegistry(0)
	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	conn.Close(websocket.CloseNormalClosure, "")

	assert.ErrorIs(t, conn.enqueue([]byte(`{}`)), apperrors.ErrConnectionClosed)
}

func TestConnection_WritePumpDeliversFrames(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()
	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	go conn.WritePump()

	frame, err := json.Marshal(map[string]string{"type": "ping"})
	require.NoError(t, err)
	require.NoError(t, conn.enqueue(frame))

	require.Eventually(t, func() bool {
		return len(transport.writtenFrames()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, string(frame), string(transport.writtenFrames()[0]))

	registry.Unregister(conn.ID)
}

func TestConnection_WritePumpDropsConnectionOnWriteError(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()
	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	transport.setWriteErr(errors.New("broken pipe"))

	go conn.WritePump()
	require.NoError(t, conn.enqueue([]byte(`{}`)))

	require.Eventually(t, func() bool {
		return registry.Stats().TotalConnections == 0
	}, time.Second, 5*time.Millisecond, "a write failure must unregister the connection")
	assert.True(t, transport.closed())
}

func TestConnection_ReadPumpUnregistersOnSocketError(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()
	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	go conn.ReadPump()

	// Simulate the peer dropping the TCP connection.
	require.NoError(t, transport.Close())

	require.Eventually(t, func() bool {
		return registry.Stats().TotalConnections == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, transport.closed())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()
	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	conn.Close(websocket.CloseGoingAway, "liveness timeout")
	conn.Close(websocket.CloseNormalClosure, "")
	conn.forceClose()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, 1, transport.closeCount)
	require.Len(t, transport.controlTypes, 1, "only the first close sends a close frame")
	assert.Equal(t, websocket.CloseMessage, transport.controlTypes[0])
}
