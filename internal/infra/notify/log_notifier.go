package notify

import (
	"context"

	"marketplace/internal/domain/model"

	"github.com/rs/zerolog"
)

// Kafka が無い環境用。イベントをログに出すだけ。
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(_ context.Context, ev model.OrderEvent) {
	e := n.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("order_id", ev.OrderID).
		Int64("user_id", ev.UserID).
		Str("status", string(ev.Status))
	if ev.PrevStatus != "" {
		e = e.Str("prev_status", string(ev.PrevStatus))
	}
	e.Msg("order event")
}
