package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/dataflow/pkg/channels/gochannel"
	"github.com/dukex/dataflow/pkg/channels/kafka"
	"github.com/dukex/dataflow/pkg/eventbus"
	"github.com/nats-io/nats.go"
)

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// NewEventBus creates the bus dataflow lifecycle events are published on.
// servers are the Kafka brokers or NATS URLs; the in-memory bus ignores them.
// nolint:ireturn
func NewEventBus(provider string, servers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, servers, "dataflow")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "nats":
		url := nats.DefaultURL
		if len(servers) > 0 && servers[0] != "" {
			url = strings.Join(servers, ",")
		}

		conn, err := nats.Connect(url, nats.Name("dataflow"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		return eventbus.NewNATSEventBus(conn, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventBus, provider)
	}
}
