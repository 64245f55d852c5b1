package adapter

import "context"

// Alerter notifies operators about conditions that need a human.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
