package factory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/scope"
)

func TestLoad_SmallFirm(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	f := factory.NewFirmFactory()

	def, err := f.ParseFirm(factory.SmallFirmJSON)
	require.NoError(t, err)
	firm, err := f.Load(ctx, s, def)
	require.NoError(t, err)

	// Categories are resolved from the role names
	assert.Equal(t, scope.CategoryPartner, firm.Roles["partner"].Category)
	assert.Equal(t, scope.CategoryFeeEarner, firm.Roles["solicitor"].Category)
	assert.Equal(t, scope.CategoryBilling, firm.Roles["billing"].Category)
	assert.Equal(t, "200.00", firm.Roles["partner"].Rate.String())

	// Managers are linked after everyone exists
	assert.Equal(t, firm.People["pat"].ID, firm.People["sam"].ManagerID)
	assert.Equal(t, firm.People["sam"].ID, firm.People["tia"].ManagerID)

	m3, err := s.GetMatter(ctx, firm.Matters["m3"].ID)
	require.NoError(t, err)
	assert.Equal(t, firm.Clients["acme"].ID, m3.ClientID)
	assert.Equal(t, firm.People["sam"].ID, m3.LeadFeeEarnerID)
	assert.False(t, m3.IsClosed())

	p, err := s.GetPersonByUser(ctx, "tia")
	require.NoError(t, err)
	assert.Equal(t, firm.People["tia"].ID, p.ID)
}

func TestLoad_Partnership(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	f := factory.NewFirmFactory()

	def, err := f.ParseFirm(factory.PartnershipJSON)
	require.NoError(t, err)
	firm, err := f.Load(ctx, s, def)
	require.NoError(t, err)

	assert.Equal(t, scope.CategoryAssociatePartner, firm.Roles["associate"].Category)
	assert.Equal(t, scope.CategoryCashier, firm.Roles["cashier"].Category)
	assert.Equal(t, scope.CategoryBilling, firm.Roles["billing"].Category)
	assert.True(t, firm.Matters["p3"].IsClosed())
}

func TestParseFirm_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"roles": [`},
		{"unknown role", `{"people": [{"key": "a", "name": "A", "role": "nope"}]}`},
		{"unknown manager", `{"people": [{"key": "a", "name": "A", "manager": "b"}]}`},
		{"duplicate person", `{"people": [{"key": "a", "name": "A"}, {"key": "a", "name": "B"}]}`},
		{"unknown client", `{"people": [{"key": "a", "name": "A"}], "matters": [{"key": "m", "number": "1", "client": "c", "lead": "a"}]}`},
		{"unknown lead", `{"clients": [{"key": "c", "name": "C"}], "matters": [{"key": "m", "number": "1", "client": "c", "lead": "a"}]}`},
		{"bad category", `{"roles": [{"key": "r", "name": "R", "category": "wizard"}]}`},
	}

	f := factory.NewFirmFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseFirm(tt.json)
			require.Error(t, err)
		})
	}
}

func TestLoad_CategoryOverride(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	f := factory.NewFirmFactory()

	def, err := f.ParseFirm(`{"roles": [{"key": "ops", "name": "Operations", "category": "admin"}]}`)
	require.NoError(t, err)
	firm, err := f.Load(ctx, s, def)
	require.NoError(t, err)

	role, err := s.GetRole(ctx, firm.Roles["ops"].ID)
	require.NoError(t, err)
	assert.Equal(t, scope.CategoryAdmin, role.Category)
}

func TestLoad_BadRate(t *testing.T) {
	f := factory.NewFirmFactory()
	def, err := f.ParseFirm(`{"roles": [{"key": "r", "name": "Partner", "rate": "lots"}]}`)
	require.NoError(t, err)

	_, err = f.Load(context.Background(), store.NewMemory(), def)
	require.Error(t, err)
	assert.False(t, billing.IsNotFound(err))
}
