package domain

// Role distinguishes agency owners from partner users.
type Role string

const (
	RoleAgency  Role = "agency"
	RolePartner Role = "partner"
)

// Valid reports whether the role is one the subsystem recognises.
func (r Role) Valid() bool {
	return r == RoleAgency || r == RolePartner
}

// Identity is a verified token claim set: who the connection belongs to.
type Identity struct {
	Subject    string
	Email      string
	Role       Role
	TenantHint string
}

// TenantID resolves the agency scope for this identity. An agency user is its
// own tenant; a partner belongs to the agency named by the token.
func (i Identity) TenantID() string {
	if i.Role == RoleAgency {
		return i.Subject
	}
	return i.TenantHint
}

// ConnectionStats is the point-in-time observability snapshot of the registry.
type ConnectionStats struct {
	TotalConnections  int            `json:"totalConnections"`
	AgencyConnections map[string]int `json:"agencyConnections"`
}
