package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPointsChanged is emitted after every committed ledger mutation.
	KindPointsChanged = "points_changed"
	// KindTierChanged is emitted when a mutation moves the user to another tier.
	KindTierChanged = "tier_changed"
)

// Message describes a notification payload. Destination is the loyalty user id.
type Message struct {
	Kind          string
	Destination   string
	Body          string
	TransactionID string
	Delta         int64
	Balance       int64
	FromTier      string
	ToTier        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("user_id", message.Destination),
		slog.String("body", message.Body),
	}
	switch message.Kind {
	case KindPointsChanged:
		attrs = append(attrs,
			slog.String("transaction_id", message.TransactionID),
			slog.Int64("delta", message.Delta),
			slog.Int64("balance", message.Balance))
	case KindTierChanged:
		attrs = append(attrs, slog.String("from_tier", message.FromTier), slog.String("to_tier", message.ToTier))
	}
	n.logger.Info("notification", attrs...)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert emitted events.
type Recorder struct {
	ch chan Message
}

// NewRecorder buffers up to size messages; Send drops messages once full.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Message, size)}
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	select {
	case r.ch <- message:
	default:
	}
	return nil
}

// Drain returns the buffered messages in send order.
func (r *Recorder) Drain() []Message {
	var out []Message
	for {
		select {
		case m := <-r.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}
