// Package redis provides a redis-backed backend and the durable timer
// service.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

type RedisOptions struct {
	backend.Options

	// KeyPrefix namespaces all keys written by this backend.
	KeyPrefix string

	// TimerPollInterval is how often the timer service checks for due
	// timers.
	TimerPollInterval time.Duration
}

type RedisBackendOption func(*RedisOptions)

func WithKeyPrefix(prefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = prefix
	}
}

func WithTimerPollInterval(interval time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.TimerPollInterval = interval
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

var _ backend.Backend = (*redisBackend)(nil)

// NewRedisBackend creates a backend on the given redis client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	options := &RedisOptions{
		Options:           backend.ApplyOptions(),
		KeyPrefix:         "crmflow:",
		TimerPollInterval: time.Second,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisBackend{
		rdb:     client,
		options: options,
	}, nil
}

func (rb *redisBackend) CreateDefinition(ctx context.Context, d *workflow.Definition) error {
	if d.Status != workflow.StatusDraft {
		return workflow.ErrNotDraft
	}

	document, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}

	ok, err := rb.rdb.SetNX(ctx, definitionKey(rb.options.KeyPrefix, d.ID, d.Version), string(document), 0).Result()
	if err != nil {
		return fmt.Errorf("storing definition: %w", err)
	}

	if !ok {
		return backend.ErrDefinitionAlreadyExists
	}

	return nil
}

func (rb *redisBackend) GetDefinition(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	document, err := rb.rdb.Get(ctx, definitionKey(rb.options.KeyPrefix, id, version)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var d workflow.Definition
	if err := json.Unmarshal([]byte(document), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling definition: %w", err)
	}

	return &d, nil
}

func (rb *redisBackend) ActiveDefinitions(ctx context.Context, entityType string, event workflow.TriggerEvent) ([]*workflow.Definition, error) {
	members, err := rb.rdb.SMembers(ctx, activeDefinitionsKey(rb.options.KeyPrefix, entityType, string(event))).Result()
	if err != nil {
		return nil, fmt.Errorf("reading active definition index: %w", err)
	}

	var result []*workflow.Definition

	for _, member := range members {
		d, err := rb.getDefinitionByMember(ctx, member)
		if err != nil {
			if errors.Is(err, backend.ErrDefinitionNotFound) {
				continue
			}

			return nil, err
		}

		if d.Status == workflow.StatusActive {
			result = append(result, d)
		}
	}

	return result, nil
}

func (rb *redisBackend) getDefinitionByMember(ctx context.Context, member string) (*workflow.Definition, error) {
	document, err := rb.rdb.Get(ctx, rb.options.KeyPrefix+"definition:"+member).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var d workflow.Definition
	if err := json.Unmarshal([]byte(document), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling definition: %w", err)
	}

	return &d, nil
}

func (rb *redisBackend) SetDefinitionStatus(ctx context.Context, id string, version int, status workflow.Status) error {
	d, err := rb.GetDefinition(ctx, id, version)
	if err != nil {
		return err
	}

	d.Status = status

	document, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}

	member := fmt.Sprintf("%v:%v", id, version)
	index := activeDefinitionsKey(rb.options.KeyPrefix, d.EntityType, string(d.TriggerEvent))

	_, err = rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, definitionKey(rb.options.KeyPrefix, id, version), string(document), 0)

		if status == workflow.StatusActive {
			p.SAdd(ctx, index, member)
		} else {
			p.SRem(ctx, index, member)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("updating definition status: %w", err)
	}

	return nil
}

func (rb *redisBackend) CreateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	ok, err := rb.rdb.SetNX(ctx, runKey(rb.options.KeyPrefix, r.ID), string(document), 0).Result()
	if err != nil {
		return fmt.Errorf("storing run: %w", err)
	}

	if !ok {
		return backend.ErrRunAlreadyExists
	}

	if err := rb.rdb.ZAdd(ctx, runsByRecordKey(rb.options.KeyPrefix, r.Record), redis.Z{
		Score:  float64(r.StartedAt.UnixNano()),
		Member: r.ID,
	}).Err(); err != nil {
		return fmt.Errorf("indexing run: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	document, err := rb.rdb.Get(ctx, runKey(rb.options.KeyPrefix, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrRunNotFound
		}

		return nil, fmt.Errorf("reading run: %w", err)
	}

	var r workflow.Run
	if err := json.Unmarshal([]byte(document), &r); err != nil {
		return nil, fmt.Errorf("unmarshaling run: %w", err)
	}

	return &r, nil
}

func (rb *redisBackend) UpdateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	ok, err := rb.rdb.SetXX(ctx, runKey(rb.options.KeyPrefix, r.ID), string(document), 0).Result()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	if !ok {
		return backend.ErrRunNotFound
	}

	return nil
}

func (rb *redisBackend) RunsForRecord(ctx context.Context, ref core.RecordRef) ([]*workflow.Run, error) {
	ids, err := rb.rdb.ZRevRange(ctx, runsByRecordKey(rb.options.KeyPrefix, ref), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading run index: %w", err)
	}

	var result []*workflow.Run

	for _, id := range ids {
		r, err := rb.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, backend.ErrRunNotFound) {
				continue
			}

			return nil, err
		}

		result = append(result, r)
	}

	return result, nil
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics
}

func (rb *redisBackend) Options() *backend.Options {
	return &rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}
