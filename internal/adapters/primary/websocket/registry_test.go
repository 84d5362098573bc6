package websocket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	apperrors "github.com/code-craka/visa-manager-app-sub001/internal/core/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(maxConns int) *Registry {
	return NewRegistry(RegistryConfig{MaxConnections: maxConns}, testLogger(), nil)
}

func agencyIdentity(userID string) domain.Identity {
	return domain.Identity{Subject: userID, Role: domain.RoleAgency}
}

func partnerIdentity(userID, agencyID string) domain.Identity {
	return domain.Identity{Subject: userID, Role: domain.RolePartner, TenantHint: agencyID}
}

func TestRegistry_RegisterAndStats(t *testing.T) {
	registry := newTestRegistry(0)

	_, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	stats := registry.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.AgencyConnections["agency-a"])

	_, err = registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	_, err = registry.Register(agencyIdentity("agency-b"), newFakeTransport())
	require.NoError(t, err)

	stats = registry.Stats()
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 2, stats.AgencyConnections["agency-a"])
	assert.Equal(t, 1, stats.AgencyConnections["agency-b"])
}

func TestRegistry_ConnectionIDsAreUnique(t *testing.T) {
	registry := newTestRegistry(0)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		conn, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
		require.NoError(t, err)
		assert.False(t, seen[conn.ID], "connection id reused: %s", conn.ID)
		seen[conn.ID] = true
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()

	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	assert.True(t, registry.Unregister(conn.ID))
	assert.False(t, registry.Unregister(conn.ID), "second unregister must be a no-op")
	assert.False(t, registry.Unregister("no-such-id"))

	stats := registry.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Empty(t, stats.AgencyConnections)
	assert.True(t, transport.closed(), "unregister must close the socket")
}

func TestRegistry_UnregisterClosesSocketExactlyOnce(t *testing.T) {
	registry := newTestRegistry(0)
	transport := newFakeTransport()

	conn, err := registry.Register(agencyIdentity("agency-a"), transport)
	require.NoError(t, err)

	registry.Unregister(conn.ID)
	registry.Unregister(conn.ID)
	conn.Close(1000, "again")

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, 1, transport.closeCount)
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	registry := newTestRegistry(1)

	_, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)

	_, err = registry.Register(agencyIdentity("agency-b"), newFakeTransport())
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.Equal(t, 1, registry.Stats().TotalConnections)
}

func TestRegistry_ForEachForUser(t *testing.T) {
	registry := newTestRegistry(0)

	// Same user twice: two tabs, two connections.
	first, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	second, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	_, err = registry.Register(partnerIdentity("partner-2", "agency-a"), newFakeTransport())
	require.NoError(t, err)

	var visited []string
	registry.ForEachForUser("partner-1", func(c *Connection) {
		visited = append(visited, c.ID)
	})

	assert.ElementsMatch(t, []string{first.ID, second.ID}, visited)
}

func TestRegistry_ForEachInTenant(t *testing.T) {
	registry := newTestRegistry(0)

	owner, err := registry.Register(agencyIdentity("agency-a"), newFakeTransport())
	require.NoError(t, err)
	partner, err := registry.Register(partnerIdentity("partner-1", "agency-a"), newFakeTransport())
	require.NoError(t, err)
	_, err = registry.Register(agencyIdentity("agency-b"), newFakeTransport())
	require.NoError(t, err)

	var visited []string
	registry.ForEachInTenant("agency-a", func(c *Connection) {
		visited = append(visited, c.ID)
	})

	assert.ElementsMatch(t, []string{owner.ID, partner.ID}, visited)
}

func TestRegistry_IterationToleratesConcurrentMutation(t *testing.T) {
	registry := newTestRegistry(0)

	for i := 0; i < 20; i++ {
		_, err := registry.Register(agencyIdentity(fmt.Sprintf("agency-%d", i)), newFakeTransport())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			conn, err := registry.Register(agencyIdentity("agency-x"), newFakeTransport())
			if err == nil {
				registry.Unregister(conn.ID)
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			registry.ForEachAll(func(c *Connection) {
				registry.Touch(c.ID)
			})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			registry.ForEachInTenant("agency-x", func(c *Connection) {
				registry.Unregister(c.ID)
			})
		}
	}()

	wg.Wait()
	assert.Equal(t, 20, registry.Stats().TotalConnections)
}

func TestRegistry_TouchMissingConnectionIsNoOp(t *testing.T) {
	registry := newTestRegistry(0)
	assert.NotPanics(t, func() { registry.Touch("gone") })
}

func TestRegistry_ShutdownDrainsAllConnections(t *testing.T) {
	registry := newTestRegistry(0)

	transports := []*fakeTransport{newFakeTransport(), newFakeTransport(), newFakeTransport()}
	for i, transport := range transports {
		_, err := registry.Register(agencyIdentity(fmt.Sprintf("agency-%d", i)), transport)
		require.NoError(t, err)
	}

	registry.Shutdown(context.Background())

	assert.Equal(t, 0, registry.Stats().TotalConnections)
	for _, transport := range transports {
		assert.True(t, transport.closed())
		transport.mu.Lock()
		assert.NotEmpty(t, transport.controlFrames, "expected a close frame before the socket closed")
		transport.mu.Unlock()
	}
}
