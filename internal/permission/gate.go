// Package permission is the capability gate consulted before privileged
// ticket operations.
package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/repository"
)

// Capability names are part of the stored profile data, not free text.
const (
	// CapSendMessage allows sending on tickets the actor does not own.
	CapSendMessage = "ticket:sendMessage"

	// CapShowAllTickets lifts the ownership restriction from the listing.
	CapShowAllTickets = "tickets-manager:showall"
)

// Gate answers "does this actor hold this capability in this tenant?".
// It fails closed: an unknown actor or profile yields false, never an error.
// Only infrastructure failures (a broken connection) surface as errors.
type Gate struct {
	repo repository.PermissionRepository
}

func NewGate(repo repository.PermissionRepository) *Gate {
	return &Gate{repo: repo}
}

func (g *Gate) HasCapability(ctx context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error) {
	return g.repo.HasCapability(ctx, actorID, tenantID, capability)
}
