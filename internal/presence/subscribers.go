package presence

import (
	"context"
	"log/slog"

	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/observability"
)

// Subscribe forces users offline when their account stops being live.
func (t *Tracker) Subscribe(bus *events.Bus) {
	events.Subscribe(bus, func(ctx context.Context, e events.AccountStateChanged) {
		switch e.To {
		case models.StatusSuspended, models.StatusBanned, models.StatusDeleted:
			if err := t.ForceOffline(ctx, e.UserID); err != nil {
				observability.GlobalLogger.WarnContext(ctx, "failed to force user offline",
					slog.Uint64("user_id", uint64(e.UserID)),
					slog.String("error", err.Error()),
				)
			}
		}
	})
}
