package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/models"
)

// Notifier observes grid changes. Notify must not block the caller for long
// and its errors never fail the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event models.GridEvent) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, models.GridEvent) error { return nil }

// MultiNotifier fans an event out to every notifier and logs failures.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event models.GridEvent) error {
	metrics := NewMetrics()
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			metrics.NotificationFailures.WithLabelValues(fmt.Sprintf("%T", n)).Inc()
			log.Warn().Err(err).Str("event", event.Type).Msg("notify observer")
		}
	}
	return nil
}

// publisher is the subset of *nats.Conn used for events.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSNotifier publishes grid events on memorials.<memorial_id>.<type>.
type NATSNotifier struct {
	conn publisher
	nc   *nats.Conn
}

func NewNATSNotifier(url string, opts ...nats.Option) (*NATSNotifier, error) {
	opts = append([]nats.Option{nats.Name("memorial-api")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{conn: nc, nc: nc}, nil
}

// EventSubject returns the subject an event is published on.
func EventSubject(event models.GridEvent) string {
	return "memorials." + event.MemorialID + "." + event.Type
}

func (n *NATSNotifier) Notify(ctx context.Context, event models.GridEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.conn.Publish(EventSubject(event), data)
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n == nil || n.nc == nil {
		return
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}
