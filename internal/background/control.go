package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// ListenControl applies activate/deactivate commands published on the
// strategy_control channel until ctx is cancelled. It is how a headless
// worker follows activation changes made through an API instance.
func (c *Coordinator) ListenControl(ctx context.Context, bus domain.SignalBus, strategies domain.StrategyStore) error {
	msgs, err := bus.Subscribe(ctx, domain.ChannelStrategyControl)
	if err != nil {
		return fmt.Errorf("coordinator: subscribe control: %w", err)
	}
	c.logger.InfoContext(ctx, "listening for strategy control commands")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			var cmd domain.StrategyControl
			if err := json.Unmarshal(raw, &cmd); err != nil {
				c.logger.WarnContext(ctx, "malformed control command", slog.String("error", err.Error()))
				continue
			}
			if err := c.applyControl(ctx, strategies, cmd); err != nil {
				c.logger.ErrorContext(ctx, "control command failed",
					slog.String("action", cmd.Action),
					slog.String("strategy_id", cmd.StrategyID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (c *Coordinator) applyControl(ctx context.Context, strategies domain.StrategyStore, cmd domain.StrategyControl) error {
	switch cmd.Action {
	case "activate":
		st, err := strategies.Get(ctx, cmd.StrategyID)
		if err != nil {
			return err
		}
		return c.AddStrategy(ctx, st)
	case "deactivate":
		return c.RemoveStrategy(ctx, cmd.StrategyID)
	default:
		return fmt.Errorf("unknown action %q: %w", cmd.Action, domain.ErrValidation)
	}
}
