package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
)

// envelope mirrors the wire shape with the data payload left raw so each test
// can decode only the fields it cares about.
type envelope struct {
	Type      domain.EventType `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Timestamp string           `json:"timestamp"`
	AgencyID  string           `json:"agencyId"`
}

func queuedEnvelopes(t *testing.T, conn *Connection) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case payload := <-conn.send:
			var env envelope
			require.NoError(t, json.Unmarshal(payload, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRouter_TenantScopedDelivery(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	owner, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)
	partner, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	outsider, err := registry.Register(agencyIdentity("agency-b"), newFakeTransport())
	require.NoError(t, err)

	router.NotifyClientDeleted(5, "Jane Doe", "agency-a")

	for _, conn := range []*Connection{owner, partner} {
		envs := queuedEnvelopes(t, conn)
		require.Len(t, envs, 1)
		assert.Equal(t, domain.EventClientDeleted, envs[0].Type)
		assert.Equal(t, "agency-a", envs[0].AgencyID)
		assert.NotEmpty(t, envs[0].Timestamp)

		var payload struct {
			ClientID int64  `json:"clientId"`
			Name     string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
		assert.Equal(t, int64(5), payload.ClientID)
		assert.Equal(t, "Jane Doe", payload.Name)
	}

	assert.Empty(t, queuedEnvelopes(t, outsider), "other tenants must not receive the event")
}

func TestRouter_ClientCreatedCarriesEntity(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	router.NotifyClientCreated(domain.Client{
		ID:       42,
		AgencyID: "agency-a",
		Name:     "Jane Doe",
		VisaType: "work",
		Status:   domain.ClientStatusPending,
	})

	envs := queuedEnvelopes(t, conn)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.EventClientCreated, envs[0].Type)

	var client domain.Client
	require.NoError(t, json.Unmarshal(envs[0].Data, &client))
	assert.Equal(t, int64(42), client.ID)
	assert.Equal(t, "Jane Doe", client.Name)
}

func TestRouter_UserTargetedDelivery(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	// The assignee has two tabs open.
	first, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	second, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	other, err := registry.Register(partnerIdentity("partner-2", "agency-a"), newFakeTransport())
	require.NoError(t, err)

	task := domain.Task{ID: 7, AgencyID: "agency-a", Title: "Review documents"}
	router.NotifyTaskAssigned(task, "partner-1", "agency-a")

	for _, conn := range []*Connection{first, second} {
		envs := queuedEnvelopes(t, conn)
		require.Len(t, envs, 1, "every connection of the assignee gets the event")
		assert.Equal(t, domain.EventTaskAssigned, envs[0].Type)

		var payload domain.TaskAssignedPayload
		require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
		assert.Equal(t, int64(7), payload.Task.ID)
		assert.Equal(t, "partner-1", payload.AssignedTo)
		assert.Equal(t, "agency-a", payload.AssignedBy)
	}

	assert.Empty(t, queuedEnvelopes(t, other), "events for one user must not reach another")
}

func TestRouter_TaskDeletedReachesAllTenants(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	a, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)
	b, err := registry.Register(agencyIdentity("agency-b"), newFakeTransport())
	require.NoError(t, err)

	router.NotifyTaskDeleted(9, "Collect passport")

	for _, conn := range []*Connection{a, b} {
		envs := queuedEnvelopes(t, conn)
		require.Len(t, envs, 1)
		assert.Equal(t, domain.EventTaskDeleted, envs[0].Type)
		assert.Empty(t, envs[0].AgencyID)

		var payload struct {
			TaskID int64 `json:"taskId"`
		}
		require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
		assert.Equal(t, int64(9), payload.TaskID)
	}
}

func TestRouter_FailedRecipientIsDroppedOthersDelivered(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	broken, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)
	healthy, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)

	// The broken peer's socket already died; its enqueue fails synchronously.
	broken.Close(websocket.CloseAbnormalClosure, "")

	router.NotifyClientStats(domain.ClientStats{Total: 3}, "agency-a")

	envs := queuedEnvelopes(t, healthy)
	require.Len(t, envs, 1, "a broken recipient must not abort the fan-out")
	assert.Equal(t, domain.EventClientStats, envs[0].Type)

	stats := registry.Stats()
	assert.Equal(t, 1, stats.TotalConnections, "the broken connection must be unregistered")
	assert.Equal(t, 1, stats.AgencyConnections["agency-a"])
}

func TestRouter_SlowConsumerIsDropped(t *testing.T) {
	registry := NewRegistry(RegistryConfig{SendBufferSize: 1}, testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil)

	_, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	// No write pump is draining, so the second publish overflows the buffer.
	router.NotifyClientStats(domain.ClientStats{Total: 1}, "agency-a")
	assert.Equal(t, 1, registry.Stats().TotalConnections)

	router.NotifyClientStats(domain.ClientStats{Total: 2}, "agency-a")
	assert.Equal(t, 0, registry.Stats().TotalConnections, "a full send buffer must evict the consumer")
}

func TestRouter_PublishNeverPanics(t *testing.T) {
	registry := newTestRegistry(0)
	router := NewRouter(registry, testLogger(), nil)

	_, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	// Channels cannot be marshaled; the publish must swallow the failure.
	assert.NotPanics(t, func() {
		router.publishToAll(domain.Event{
			Type:      domain.EventTaskStats,
			Data:      make(chan int),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
	assert.Equal(t, 1, registry.Stats().TotalConnections)
}
