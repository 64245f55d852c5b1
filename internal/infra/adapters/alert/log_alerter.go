package alert

import (
	"context"

	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*LogAlerter)(nil)

// LogAlerter writes alerts to the log. Used when no Telegram bot is configured.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: logger.With().Str("component", "alerter").Logger()}
}

func (a *LogAlerter) Alert(ctx context.Context, text string) error {
	a.log.Warn().Str("alert", text).Msg("operator alert")
	return nil
}
