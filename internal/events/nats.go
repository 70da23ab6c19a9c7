package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/nats-io/nats.go"
)

// NATSSink publishes each event as JSON on <prefix>.<event type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("credcalls"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if prefix == "" {
		prefix = "credcalls"
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(_ context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.nc.Publish(Subject(s.prefix, ev.Type), data)
}

func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

// Subject is the NATS subject an event type is published on.
func Subject(prefix string, t model.EventType) string {
	return prefix + "." + string(t)
}
