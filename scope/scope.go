/*
Package scope resolves what an actor is allowed to do.

PURPOSE:
  One place answers "can this actor do X". Every mutating operation in the
  billing engine asks Resolve once, holds the resulting CapabilitySet for
  the duration of the operation, and never re-derives flags from role names.

ROLE CATEGORIES:
  Free-text role names ("Billing Administrator", "Senior Partner") are
  classified into a Category exactly once, when the role is defined
  (see ClassifyRole). Authorization checks only ever look at the tag.

CAPABILITY MATRIX:
  ┌──────────────────────┬───────┬─────────┬─────────┬──────────┬────────────┬─────────┐
  │ capability           │ admin │ billing │ partner │ assoc-ptr│ fee-earner │ cashier │
  ├──────────────────────┼───────┼─────────┼─────────┼──────────┼────────────┼─────────┤
  │ view invoice         │   ✓   │    ✓    │    ✓    │    ✓     │            │         │
  │ create invoice       │   ✓   │         │    ✓    │    ✓     │            │         │
  │ post/delete invoice  │   ✓   │    ✓    │         │          │            │         │
  │ mark paid            │   ✓   │    ✓    │         │          │            │         │
  │ log time             │       │         │    ✓    │    ✓     │     ✓      │    ✓    │
  └──────────────────────┴───────┴─────────┴─────────┴──────────┴────────────┴─────────┘
  A superuser is treated as admin whatever their role.

MATTER SCOPING:
  Creating an invoice against a specific matter additionally requires the
  actor to lead that matter. Admins bypass this. Whether partners are held
  to it is a Policy toggle.

SEE ALSO:
  - billing/actor.go: Builds an Actor from a user id
  - factory/firm.go: Classifies role names at definition time
*/
package scope

import "strings"

// =============================================================================
// ROLE CATEGORY
// =============================================================================

// Category is the canonical role tag stored alongside a role's display name.
type Category string

const (
	CategoryNone             Category = ""
	CategoryAdmin            Category = "admin"
	CategoryBilling          Category = "billing"
	CategoryPartner          Category = "partner"
	CategoryAssociatePartner Category = "associate_partner"
	CategoryFeeEarner        Category = "fee_earner"
	CategoryCashier          Category = "cashier"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNone, CategoryAdmin, CategoryBilling, CategoryPartner,
		CategoryAssociatePartner, CategoryFeeEarner, CategoryCashier:
		return true
	}
	return false
}

// Role titles that carry elevated rights. Anything not listed here (other
// than a billing role) is a fee earner.
var (
	partnerTitles = map[string]bool{
		"partner":          true,
		"equity partner":   true,
		"senior partner":   true,
		"managing partner": true,
	}
	associatePartnerTitles = map[string]bool{
		"associate partner": true,
	}
	adminTitles = map[string]bool{
		"admin":                true,
		"administrator":        true,
		"system admin":         true,
		"system administrator": true,
	}
)

// ClassifyRole maps a free-text role name to a Category.
//
// Names are compared case-insensitively after collapsing whitespace,
// hyphens and underscores. Any name mentioning "billing" is a billing role.
// Partner, associate partner, admin and cashier need an exact title match,
// so "Office Administrator" or "Partner's Secretary" stay fee earners.
func ClassifyRole(name string) Category {
	n := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(name))
	n = strings.Join(strings.Fields(n), " ")

	switch {
	case n == "":
		return CategoryNone
	case strings.Contains(n, "billing"):
		return CategoryBilling
	case associatePartnerTitles[n]:
		return CategoryAssociatePartner
	case partnerTitles[n]:
		return CategoryPartner
	case n == "cashier":
		return CategoryCashier
	case adminTitles[n]:
		return CategoryAdmin
	default:
		return CategoryFeeEarner
	}
}

// =============================================================================
// ACTOR
// =============================================================================

// Actor is the caller of an engine operation, resolved once per request.
type Actor struct {
	UserID    string
	Superuser bool

	// PersonID is zero when the user has no person record.
	PersonID  int64
	Category  Category
	Delegates []int64
}

// HasPerson reports whether the actor maps to a person record.
func (a Actor) HasPerson() bool { return a.PersonID != 0 }

// Oversees reports whether personID is the actor or one of their direct delegates.
func (a Actor) Oversees(personID int64) bool {
	if a.PersonID != 0 && a.PersonID == personID {
		return true
	}
	for _, d := range a.Delegates {
		if d == personID {
			return true
		}
	}
	return false
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability names a gated operation.
type Capability uint8

const (
	ViewInvoice Capability = 1 << iota
	CreateInvoice
	PostOrDeleteInvoice
	MarkPaid
	LogTime
	// ViewAllWIP lets the actor list WIP for any fee earner.
	ViewAllWIP
)

var capabilityNames = map[Capability]string{
	ViewInvoice:         "can_view_invoice",
	CreateInvoice:       "can_create_invoice",
	PostOrDeleteInvoice: "can_post_or_delete_invoice",
	MarkPaid:            "can_mark_paid",
	LogTime:             "can_log_time",
	ViewAllWIP:          "can_view_all_wip",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return "unknown"
}

// Policy holds the authorization knobs that differ between firms.
type Policy struct {
	// LeadScopeAppliesToPartners holds partners to the lead-fee-earner rule
	// when they invoice a specific matter.
	LeadScopeAppliesToPartners bool
}

// DefaultPolicy applies the lead rule to everyone except admins.
func DefaultPolicy() Policy {
	return Policy{LeadScopeAppliesToPartners: true}
}

// CapabilitySet is the resolved view of an actor.
type CapabilitySet struct {
	actor  Actor
	policy Policy
	bits   Capability
}

// Resolve computes the capability set for an actor. It is pure.
func Resolve(actor Actor, policy Policy) CapabilitySet {
	cs := CapabilitySet{actor: actor, policy: policy}

	if cs.IsAdmin() {
		cs.bits = ViewInvoice | CreateInvoice | PostOrDeleteInvoice | MarkPaid | ViewAllWIP
		return cs
	}

	switch actor.Category {
	case CategoryBilling:
		cs.bits = ViewInvoice | PostOrDeleteInvoice | MarkPaid | ViewAllWIP
	case CategoryPartner, CategoryAssociatePartner:
		cs.bits = ViewInvoice | CreateInvoice | LogTime | ViewAllWIP
	case CategoryFeeEarner, CategoryCashier, CategoryNone:
		cs.bits = LogTime
	}
	return cs
}

// Actor returns the actor the set was resolved for.
func (cs CapabilitySet) Actor() Actor { return cs.actor }

// IsAdmin is true for superusers and admin-category roles.
func (cs CapabilitySet) IsAdmin() bool {
	return cs.actor.Superuser || cs.actor.Category == CategoryAdmin
}

// IsPartner is true for partners and associate partners.
func (cs CapabilitySet) IsPartner() bool {
	return cs.actor.Category == CategoryPartner || cs.actor.Category == CategoryAssociatePartner
}

// Can reports whether the actor holds c.
func (cs CapabilitySet) Can(c Capability) bool { return cs.bits&c == c }

// CanBillMatter reports whether the actor may create an invoice scoped to a
// matter led by leadPersonID.
func (cs CapabilitySet) CanBillMatter(leadPersonID int64) bool {
	if !cs.Can(CreateInvoice) {
		return false
	}
	if cs.IsAdmin() {
		return true
	}
	if cs.actor.Category == CategoryPartner && !cs.policy.LeadScopeAppliesToPartners {
		return true
	}
	return cs.actor.HasPerson() && cs.actor.PersonID == leadPersonID
}

// CanRecordFor reports whether the actor may log time on behalf of personID.
// Partners record for anyone; everyone else only for themselves.
func (cs CapabilitySet) CanRecordFor(personID int64) bool {
	if !cs.Can(LogTime) {
		return false
	}
	if cs.IsPartner() {
		return true
	}
	return cs.actor.HasPerson() && cs.actor.PersonID == personID
}

// CanViewWIPOf reports whether the actor may see WIP recorded by personID.
func (cs CapabilitySet) CanViewWIPOf(personID int64) bool {
	return cs.Can(ViewAllWIP) || cs.actor.Oversees(personID)
}
