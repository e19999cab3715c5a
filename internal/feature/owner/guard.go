// Package owner restricts administrative commands to the configured bot owner.
package owner

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/logging"
)

// Guard authorizes owner-only actions against the configured owner identity.
type Guard struct {
	ownerID int64
	logger  *logrus.Entry
}

// NewGuard constructs a Guard for ownerID. A zero owner id is rejected.
func NewGuard(ownerID int64, logger *logrus.Entry) (*Guard, error) {
	if ownerID == 0 {
		return nil, errors.New("owner id is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Guard{
		ownerID: ownerID,
		logger:  logger,
	}, nil
}

// OwnerID returns the configured owner identity.
func (g *Guard) OwnerID() int64 {
	if g == nil {
		return 0
	}
	return g.ownerID
}

// Authorize returns domain.ErrPermissionDenied unless requesterID is the owner.
func (g *Guard) Authorize(requesterID int64, action string) error {
	if g == nil || g.ownerID == 0 {
		return fmt.Errorf("%s: %w", action, domain.ErrPermissionDenied)
	}
	if requesterID == g.ownerID {
		return nil
	}

	g.logger.WithFields(logging.Fields{
		"event":   "owner_denied",
		"user_id": requesterID,
		"action":  action,
	}).Warn("rejected owner-only action")

	return fmt.Errorf("%s: %w", action, domain.ErrPermissionDenied)
}
