package events

import (
	"context"

	"github.com/iTrooz/podcast-proxy/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Subject string
}

// NATSPublisher publishes cache refreshes to a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to the NATS server
func NewNATSPublisher(config *NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(config.URL, nats.Name("podcast-proxy"))
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{
		conn:    nc,
		subject: config.Subject,
	}, nil
}

// Close drains pending messages and closes the connection
func (np *NATSPublisher) Close() {
	if np.conn == nil {
		return
	}
	if err := np.conn.Drain(); err != nil {
		logrus.Warnf("Failed to drain NATS connection: %v", err)
		np.conn.Close()
	}
}

// Publish sends event to the configured subject
func (np *NATSPublisher) Publish(_ context.Context, event CacheRefresh) error {
	data, err := encode(event)
	if err != nil {
		return err
	}

	if err := np.conn.Publish(np.subject, data); err != nil {
		metrics.NatsMessagesPublished.WithLabelValues(np.subject, "error").Inc()
		return err
	}

	metrics.NatsMessagesPublished.WithLabelValues(np.subject, "success").Inc()
	logrus.Debugf("Published %s refresh of %s to NATS", event.Collection, event.RequestURI)
	return nil
}
