package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/billing-engine/scope"
)

// ResolveActor builds the scope.Actor for an authenticated user: their
// person record, the category of that person's role, and their direct
// delegates. A user without a person record resolves to a bare actor that
// can only act through superuser status.
func (e *Engine) ResolveActor(ctx context.Context, userID string, superuser bool) (scope.Actor, error) {
	actor := scope.Actor{UserID: userID, Superuser: superuser}
	if userID == "" {
		return actor, nil
	}

	person, err := e.store.GetPersonByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return actor, nil
	}
	if err != nil {
		return actor, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	actor.PersonID = int64(person.ID)

	if person.RoleID != 0 {
		role, err := e.store.GetRole(ctx, person.RoleID)
		switch {
		case err == nil:
			actor.Category = role.Category
		case !errors.Is(err, ErrNotFound):
			return actor, fmt.Errorf("role %d: %w", person.RoleID, err)
		}
	}

	delegates, err := e.store.ListDelegates(ctx, person.ID)
	if err != nil {
		return actor, fmt.Errorf("delegates of %d: %w", person.ID, err)
	}
	for _, d := range delegates {
		actor.Delegates = append(actor.Delegates, int64(d.ID))
	}
	return actor, nil
}
