package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher is the transport surface the NATS notifier needs. It is
// satisfied by natsclient.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Event is the wire envelope for availability signals published over NATS.
type Event struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSNotifier publishes availability signals to a NATS subject so readers
// in other processes can pace their consumption of the output file. Publish
// failures are logged and dropped: the signal is level-triggered, so a
// missed edge is recovered by the next one.
type NATSNotifier struct {
	publisher Publisher
	subject   string
	source    string
	logger    *slog.Logger
}

// NewNATSNotifier creates a notifier publishing to subject. The source id
// tags every event so readers can tell engines apart.
func NewNATSNotifier(publisher Publisher, subject, source string, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = uuid.NewString()
	}
	return &NATSNotifier{
		publisher: publisher,
		subject:   subject,
		source:    source,
		logger:    logger,
	}
}

// Available implements Notifier. Zero counts are not published.
func (n *NATSNotifier) Available(count int) {
	if count <= 0 {
		return
	}
	n.publish(Event{
		ID:        uuid.NewString(),
		Source:    n.source,
		Count:     count,
		Timestamp: time.Now().UTC(),
	})
}

// Failed implements Notifier.
func (n *NATSNotifier) Failed(err error) {
	if err == nil {
		return
	}
	n.publish(Event{
		ID:        uuid.NewString(),
		Source:    n.source,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (n *NATSNotifier) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to marshal availability event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.publisher.Publish(ctx, n.subject, data); err != nil {
		n.logger.Warn("failed to publish availability event",
			"subject", n.subject, "error", err)
	}
}
