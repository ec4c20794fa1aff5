package queue

import (
	"context"

	"github.com/answerdesk/answerdesk-back/internal/domain"
)

// Producer sends run requests to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.RunMessage) error
}

// Consumer receives run requests and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.RunMessage) error) error
}
