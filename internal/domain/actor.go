package domain

// Role is an actor's role within the regulator.
type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
	RolePrincipalOfficer  Role = "PRINCIPAL_OFFICER"
	RoleAccountant        Role = "ACCOUNTANT"
	RoleSystem            Role = "SYSTEM"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleComplianceOfficer, RolePrincipalOfficer, RoleAccountant, RoleSystem:
		return true
	}
	return false
}

// Actor is whoever triggers an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor runs scheduled jobs and CLI batches.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
