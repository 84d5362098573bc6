package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelopeShape(t *testing.T) {
	event := NewTenantEvent(EventClientDeleted, ClientDeletedPayload{ClientID: 5, Name: "Jane Doe"}, "agency-42")

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "client:deleted", decoded["type"])
	assert.Equal(t, "agency-42", decoded["agencyId"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), data["clientId"])

	ts, err := time.Parse(time.RFC3339, decoded["timestamp"].(string))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location(), "envelope timestamps are UTC")
}

func TestEventOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(NewEvent(EventPong, nil))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "data", "global events carry no tenant scope")
	assert.NotContains(t, decoded, "agencyId")
}

func TestIdentityTenantID(t *testing.T) {
	agency := Identity{Subject: "agency-42", Role: RoleAgency}
	assert.Equal(t, "agency-42", agency.TenantID())

	partner := Identity{Subject: "partner-7", Role: RolePartner, TenantHint: "agency-42"}
	assert.Equal(t, "agency-42", partner.TenantID())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAgency.Valid())
	assert.True(t, RolePartner.Valid())
	assert.False(t, Role("superadmin").Valid())
	assert.False(t, Role("").Valid())
}
