package ports

import "context"

type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Contract for delivering a message to a user or worker.
// Callers treat delivery as best-effort.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
