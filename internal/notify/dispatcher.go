package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devbattle/internal/domain"
)

// ContactLookup resolves a user's email address
type ContactLookup interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// Sender delivers a rendered result email
type Sender interface {
	SendBattleResult(ctx context.Context, to string, n domain.BattleNotification) error
}

// Deliverer delivers one notification synchronously
type Deliverer interface {
	Deliver(ctx context.Context, n domain.BattleNotification) error
}

// Dispatcher delivers result emails to battle participants
type Dispatcher struct {
	contacts ContactLookup
	sender   Sender
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(contacts ContactLookup, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{contacts: contacts, sender: sender, logger: logger}
}

// Deliver sends n to its recipient. Users without a contact are skipped.
func (d *Dispatcher) Deliver(ctx context.Context, n domain.BattleNotification) error {
	to, err := d.contacts.GetUserEmail(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrContactNotFound) {
			d.logger.Debug("no contact for user, skipping notification", "user_id", n.UserID, "battle_id", n.BattleID)
			return nil
		}
		return fmt.Errorf("looking up contact: %w", err)
	}

	if err := d.sender.SendBattleResult(ctx, to, n); err != nil {
		return fmt.Errorf("sending battle result: %w", err)
	}
	d.logger.Info("battle notification sent", "user_id", n.UserID, "battle_id", n.BattleID)
	return nil
}
