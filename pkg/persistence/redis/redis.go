// Package redis provides Redis persistence implementation for dataflows.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "dataflow:"
	indexKey  = "dataflows"
)

// Persistence stores each flow as a JSON document under dataflow:<name> and
// keeps the set of names under dataflows.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewPersistence connects to the server described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Persistence{client: client, logger: logger}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// DataFlows returns all stored flows ordered by name.
func (p *Persistence) DataFlows(ctx context.Context) ([]*models.DataFlow, error) {
	names, err := p.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dataflows: %w", err)
	}

	slices.Sort(names)

	flows := make([]*models.DataFlow, 0, len(names))

	for _, name := range names {
		flow, err := p.DataFlowByName(ctx, name)
		if err != nil {
			return nil, err
		}

		// the index may briefly list a name whose document is gone
		if flow == nil {
			p.logger.WarnContext(ctx, "Dataflow indexed but missing", "dataflow", name)

			continue
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func (p *Persistence) DataFlowByName(ctx context.Context, name string) (*models.DataFlow, error) {
	body, err := p.client.Get(ctx, keyPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch dataflow %s: %w", name, err)
	}

	flow, err := models.ParseDataFlow(body)
	if err != nil {
		return nil, &persistence.DataFlowError{
			Op:      "DataFlowByName",
			Name:    name,
			Err:     persistence.ErrCorruptDataFlow,
			Message: err.Error(),
		}
	}

	return flow, nil
}

func (p *Persistence) SaveDataFlow(ctx context.Context, flow *models.DataFlow) error {
	body, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal dataflow %s: %w", flow.Name(), err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+flow.Name(), body, 0)
		pipe.SAdd(ctx, indexKey, flow.Name())

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save dataflow %s: %w", flow.Name(), err)
	}

	return nil
}

func (p *Persistence) DeleteDataFlow(ctx context.Context, name string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keyPrefix+name)
		pipe.SRem(ctx, indexKey, name)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete dataflow %s: %w", name, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewDataFlowError("Delete", name, persistence.ErrDataFlowNotFound)
	}

	return nil
}
