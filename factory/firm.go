/*
Package factory provides JSON to Go master-data conversion.

PURPOSE:
  Converts JSON firm definitions into roles, people, clients and matters
  and saves them through a billing.Registry. Role categories are resolved
  here, once, from the role's display name; the engine never looks at role
  names again.

JSON SCHEMA:
  {
    "name": "Small Firm",
    "roles": [
      {"key": "partner", "name": "Partner", "rate": "200.00"},
      {"key": "billing", "name": "Billing Administrator", "rate": "0"}
    ],
    "people": [
      {"key": "pat", "initials": "PAT", "name": "Pat Partner",
       "user_id": "pat", "role": "partner"},
      {"key": "sam", "initials": "SAM", "name": "Sam Solicitor",
       "user_id": "sam", "role": "solicitor", "manager": "pat"}
    ],
    "clients": [{"key": "acme", "number": 1001, "name": "Acme Ltd"}],
    "matters": [
      {"key": "m1", "number": "M-001", "description": "Lease renewal",
       "client": "acme", "lead": "pat", "opened": "2025-01-06"}
    ]
  }

  Keys only link entries inside one definition. "category" on a role
  overrides classification when given.

KEY FEATURES:
  - Validates references between entries before writing anything
  - Managers may be declared after their reports
  - Returns the saved rows by key so callers can use the assigned IDs

USAGE:
  f := factory.NewFirmFactory()
  def, err := f.ParseFirm(jsonString)
  firm, err := f.Load(ctx, registry, def)
  firm.Matters["m1"].ID

SEE ALSO:
  - scope/scope.go: ClassifyRole
  - factory/presets.go: Ready-made firm definitions
  - api/scenarios.go: Demo scenarios built on these definitions
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
	"github.com/warp/billing-engine/scope"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FirmJSON is the JSON representation of a firm's master data.
type FirmJSON struct {
	Name    string       `json:"name"`
	Roles   []RoleJSON   `json:"roles"`
	People  []PersonJSON `json:"people"`
	Clients []ClientJSON `json:"clients"`
	Matters []MatterJSON `json:"matters"`
}

// RoleJSON represents a charge-out role.
type RoleJSON struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Rate     string `json:"rate"`
	Category string `json:"category,omitempty"`
}

// PersonJSON represents a fee earner or staff member.
type PersonJSON struct {
	Key      string `json:"key"`
	Initials string `json:"initials"`
	Name     string `json:"name"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role,omitempty"`
	Manager  string `json:"manager,omitempty"`
}

// ClientJSON represents a billable client.
type ClientJSON struct {
	Key    string `json:"key"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// MatterJSON represents a piece of work for a client.
type MatterJSON struct {
	Key         string `json:"key"`
	Number      string `json:"number"`
	Description string `json:"description,omitempty"`
	Client      string `json:"client"`
	Lead        string `json:"lead"`
	Opened      string `json:"opened,omitempty"` // YYYY-MM-DD
	Closed      string `json:"closed,omitempty"` // YYYY-MM-DD
}

// Firm holds the saved rows keyed by their definition key.
type Firm struct {
	Name    string
	Roles   map[string]billing.Role
	People  map[string]billing.Person
	Clients map[string]billing.Client
	Matters map[string]billing.Matter
}

// =============================================================================
// FIRM FACTORY
// =============================================================================

// FirmFactory converts JSON firm definitions to master data.
type FirmFactory struct {
	now func() time.Time
}

// NewFirmFactory creates a new firm factory.
func NewFirmFactory() *FirmFactory {
	return &FirmFactory{now: time.Now}
}

// ParseFirm parses and validates a JSON firm definition.
func (f *FirmFactory) ParseFirm(jsonStr string) (*FirmJSON, error) {
	var fj FirmJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse firm JSON: %w", err)
	}
	if err := fj.Validate(); err != nil {
		return nil, err
	}
	return &fj, nil
}

// Validate checks keys are unique and every reference resolves.
func (fj *FirmJSON) Validate() error {
	roles := make(map[string]bool)
	for _, r := range fj.Roles {
		if r.Key == "" || r.Name == "" {
			return fmt.Errorf("role %q: key and name are required: %w", r.Key, billing.ErrInvalidInput)
		}
		if roles[r.Key] {
			return fmt.Errorf("duplicate role key %q: %w", r.Key, billing.ErrInvalidInput)
		}
		if r.Category != "" && !scope.Category(r.Category).IsValid() {
			return fmt.Errorf("role %q: unknown category %q: %w", r.Key, r.Category, billing.ErrInvalidInput)
		}
		roles[r.Key] = true
	}

	people := make(map[string]bool)
	for _, p := range fj.People {
		if p.Key == "" || p.Name == "" {
			return fmt.Errorf("person %q: key and name are required: %w", p.Key, billing.ErrInvalidInput)
		}
		if people[p.Key] {
			return fmt.Errorf("duplicate person key %q: %w", p.Key, billing.ErrInvalidInput)
		}
		if p.Role != "" && !roles[p.Role] {
			return fmt.Errorf("person %q: unknown role %q: %w", p.Key, p.Role, billing.ErrInvalidInput)
		}
		people[p.Key] = true
	}
	for _, p := range fj.People {
		if p.Manager != "" && !people[p.Manager] {
			return fmt.Errorf("person %q: unknown manager %q: %w", p.Key, p.Manager, billing.ErrInvalidInput)
		}
	}

	clients := make(map[string]bool)
	for _, c := range fj.Clients {
		if c.Key == "" || c.Name == "" {
			return fmt.Errorf("client %q: key and name are required: %w", c.Key, billing.ErrInvalidInput)
		}
		if clients[c.Key] {
			return fmt.Errorf("duplicate client key %q: %w", c.Key, billing.ErrInvalidInput)
		}
		clients[c.Key] = true
	}

	matters := make(map[string]bool)
	for _, m := range fj.Matters {
		if m.Key == "" || m.Number == "" {
			return fmt.Errorf("matter %q: key and number are required: %w", m.Key, billing.ErrInvalidInput)
		}
		if matters[m.Key] {
			return fmt.Errorf("duplicate matter key %q: %w", m.Key, billing.ErrInvalidInput)
		}
		if !clients[m.Client] {
			return fmt.Errorf("matter %q: unknown client %q: %w", m.Key, m.Client, billing.ErrInvalidInput)
		}
		if !people[m.Lead] {
			return fmt.Errorf("matter %q: unknown lead %q: %w", m.Key, m.Lead, billing.ErrInvalidInput)
		}
		matters[m.Key] = true
	}
	return nil
}

// Load saves the definition through reg. Rows are written in dependency
// order: roles, people (then their managers), clients, matters.
func (f *FirmFactory) Load(ctx context.Context, reg billing.Registry, fj *FirmJSON) (*Firm, error) {
	if err := fj.Validate(); err != nil {
		return nil, err
	}

	firm := &Firm{
		Name:    fj.Name,
		Roles:   make(map[string]billing.Role, len(fj.Roles)),
		People:  make(map[string]billing.Person, len(fj.People)),
		Clients: make(map[string]billing.Client, len(fj.Clients)),
		Matters: make(map[string]billing.Matter, len(fj.Matters)),
	}

	for _, rj := range fj.Roles {
		role, err := parseRole(rj)
		if err != nil {
			return nil, err
		}
		if err := reg.SaveRole(ctx, &role); err != nil {
			return nil, fmt.Errorf("failed to save role %q: %w", rj.Key, err)
		}
		firm.Roles[rj.Key] = role
	}

	for _, pj := range fj.People {
		p := billing.Person{
			Initials: pj.Initials,
			Name:     pj.Name,
			UserID:   pj.UserID,
			RoleID:   firm.Roles[pj.Role].ID,
		}
		if err := reg.SavePerson(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to save person %q: %w", pj.Key, err)
		}
		firm.People[pj.Key] = p
	}

	// Managers second, so declaration order does not matter.
	for _, pj := range fj.People {
		if pj.Manager == "" {
			continue
		}
		p := firm.People[pj.Key]
		p.ManagerID = firm.People[pj.Manager].ID
		if err := reg.SavePerson(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to set manager of %q: %w", pj.Key, err)
		}
		firm.People[pj.Key] = p
	}

	for _, cj := range fj.Clients {
		c := billing.Client{Number: cj.Number, Name: cj.Name}
		if err := reg.SaveClient(ctx, &c); err != nil {
			return nil, fmt.Errorf("failed to save client %q: %w", cj.Key, err)
		}
		firm.Clients[cj.Key] = c
	}

	for _, mj := range fj.Matters {
		m, err := f.parseMatter(mj, firm)
		if err != nil {
			return nil, err
		}
		if err := reg.SaveMatter(ctx, &m); err != nil {
			return nil, fmt.Errorf("failed to save matter %q: %w", mj.Key, err)
		}
		firm.Matters[mj.Key] = m
	}

	return firm, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRole(rj RoleJSON) (billing.Role, error) {
	rate := money.Zero
	if rj.Rate != "" {
		var err error
		if rate, err = money.ParseAmount(rj.Rate); err != nil {
			return billing.Role{}, fmt.Errorf("role %q: invalid rate %q: %w", rj.Key, rj.Rate, err)
		}
	}

	category := scope.ClassifyRole(rj.Name)
	if rj.Category != "" {
		category = scope.Category(rj.Category)
	}

	return billing.Role{Name: rj.Name, Category: category, Rate: rate}, nil
}

func (f *FirmFactory) parseMatter(mj MatterJSON, firm *Firm) (billing.Matter, error) {
	m := billing.Matter{
		Number:          mj.Number,
		Description:     mj.Description,
		ClientID:        firm.Clients[mj.Client].ID,
		LeadFeeEarnerID: firm.People[mj.Lead].ID,
		OpenedAt:        f.now().UTC().Truncate(24 * time.Hour),
	}
	if mj.Opened != "" {
		opened, err := parseDate(mj.Opened)
		if err != nil {
			return m, fmt.Errorf("matter %q: %w", mj.Key, err)
		}
		m.OpenedAt = opened
	}
	if mj.Closed != "" {
		closed, err := parseDate(mj.Closed)
		if err != nil {
			return m, fmt.Errorf("matter %q: %w", mj.Key, err)
		}
		m.ClosedAt = &closed
	}
	return m, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, billing.ErrInvalidInput)
	}
	return t, nil
}
