package redis

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/timer"
)

// TimerService is the durable timer implementation backed by a redis ZSET
// scored by fire time. Timers survive process restarts; any polling process
// can claim and deliver them. Claiming is a ZREM, which only one concurrent
// poller wins, so each firing is delivered once per claim while redis
// retains the entry until a claim succeeds, giving at-least-once delivery
// overall.
type TimerService struct {
	rdb     redis.UniversalClient
	handler timer.Handler

	keyPrefix    string
	pollInterval time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

var _ timer.Service = (*TimerService)(nil)

// NewTimerService creates a timer service on the backend's redis client
// delivering to handler. Call Run to start polling.
func (rb *redisBackend) NewTimerService(handler timer.Handler) *TimerService {
	return &TimerService{
		rdb:          rb.rdb,
		handler:      handler,
		keyPrefix:    rb.options.KeyPrefix,
		pollInterval: rb.options.TimerPollInterval,
		clock:        clock.New(),
		logger:       rb.options.Logger,
	}
}

func (s *TimerService) Schedule(ctx context.Context, t timer.Timer) error {
	return s.rdb.ZAdd(ctx, timersKey(s.keyPrefix), redis.Z{
		Score:  float64(t.FireAt.UnixMilli()),
		Member: t.Key(),
	}).Err()
}

func (s *TimerService) Cancel(ctx context.Context, runID string, stepIndex int, kind timer.Kind) error {
	key := timer.Timer{RunID: runID, StepIndex: stepIndex, Kind: kind}.Key()

	return s.rdb.ZRem(ctx, timersKey(s.keyPrefix), key).Err()
}

// Run polls for due timers until ctx is cancelled.
func (s *TimerService) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.deliverDue(ctx)
		}
	}
}

func (s *TimerService) deliverDue(ctx context.Context) {
	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)

	members, err := s.rdb.ZRangeByScore(ctx, timersKey(s.keyPrefix), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		s.logger.ErrorContext(ctx, "polling timers", slog.Any("error", err))
		return
	}

	for _, member := range members {
		removed, err := s.rdb.ZRem(ctx, timersKey(s.keyPrefix), member).Result()
		if err != nil {
			s.logger.ErrorContext(ctx, "claiming timer", slog.Any("error", err))
			continue
		}

		if removed == 0 {
			// Another poller claimed it first.
			continue
		}

		t, ok := parseTimerKey(member)
		if !ok {
			s.logger.WarnContext(ctx, "dropping malformed timer key", slog.String("key", member))
			continue
		}

		s.logger.DebugContext(ctx, "timer fired",
			slog.String(log.RunIDKey, t.RunID),
			slog.Int(log.StepIndexKey, t.StepIndex),
			slog.String(log.TimerKindKey, string(t.Kind)))

		s.handler(ctx, t)
	}
}

// parseTimerKey reverses timer.Timer.Key. Run ids are uuids, so the
// colon-separated form is unambiguous.
func parseTimerKey(key string) (timer.Timer, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return timer.Timer{}, false
	}

	stepIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return timer.Timer{}, false
	}

	kind := timer.Kind(parts[2])
	if kind != timer.KindTimeout && kind != timer.KindReminder {
		return timer.Timer{}, false
	}

	return timer.Timer{RunID: parts[0], StepIndex: stepIndex, Kind: kind}, true
}
