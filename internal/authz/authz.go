// Package authz holds the single capability check consulted by every
// scoring operation.
package authz

import (
	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

// Action names an operation on a resource class.
type Action string

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionActivate    Action = "activate"
	ActionRecalculate Action = "recalculate"
	ActionRun         Action = "run"
)

// Resource names a resource class.
type Resource string

const (
	ResourceFormula    Resource = "formula"
	ResourceBreakdown  Resource = "breakdown"
	ResourceAssessment Resource = "assessment"
	ResourceCompliance Resource = "compliance"
	ResourceRanking    Resource = "ranking"
	ResourceScoring    Resource = "scoring"
)

type capability struct {
	action   Action
	resource Resource
}

var (
	everyone = roles(domain.RoleAdmin, domain.RoleComplianceOfficer, domain.RolePrincipalOfficer,
		domain.RoleAccountant, domain.RoleSystem)
	adminOnly = roles(domain.RoleAdmin)
	scorers   = roles(domain.RoleAdmin, domain.RoleComplianceOfficer, domain.RoleSystem)
)

var policy = map[capability]map[domain.Role]bool{
	{ActionRead, ResourceFormula}:    everyone,
	{ActionRead, ResourceBreakdown}:  everyone,
	{ActionRead, ResourceAssessment}: everyone,
	{ActionRead, ResourceCompliance}: everyone,
	{ActionRead, ResourceRanking}:    everyone,

	{ActionWrite, ResourceFormula}:    adminOnly,
	{ActionActivate, ResourceFormula}: adminOnly,

	{ActionWrite, ResourceAssessment}:       scorers,
	{ActionRecalculate, ResourceAssessment}: scorers,
	{ActionWrite, ResourceCompliance}:       scorers,
	{ActionRecalculate, ResourceCompliance}: scorers,
	{ActionWrite, ResourceBreakdown}:        scorers,
	{ActionRun, ResourceScoring}:            scorers,
}

func roles(rs ...domain.Role) map[domain.Role]bool {
	m := make(map[domain.Role]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// Can reports whether actor may perform action on resource.
// Unknown roles, actions and resources are denied.
func Can(actor domain.Actor, action Action, resource Resource) bool {
	if actor.ID == "" || !actor.Role.Valid() {
		return false
	}
	return policy[capability{action, resource}][actor.Role]
}

// Require returns ErrForbidden when Can denies.
func Require(actor domain.Actor, action Action, resource Resource) error {
	if Can(actor, action, resource) {
		return nil
	}
	return eris.Wrapf(domain.ErrForbidden, "%s (%s) may not %s %s", actor.ID, actor.Role, action, resource)
}
