package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// MirrorPayload is the envelope published to Redis for out-of-process
// consumers (a Discord bridge, a stats collector). It carries the same ordered
// event the in-process subscribers see.
type MirrorPayload struct {
	RoomCode string          `json:"roomCode"`
	Seq      uint64          `json:"seq"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Mirror publishes room events to Redis pub/sub. All methods are nil-safe so
// the engine runs identically in single-process mode without Redis.
type Mirror struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client (used by the rate limiter store).
func (m *Mirror) Client() *redis.Client {
	if m == nil {
		return nil
	}
	return m.client
}

// NewMirror creates a Redis connection for event mirroring, verifying
// connectivity before returning.
func NewMirror(addr, password string) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis event mirror", zap.String("addr", addr))
	return &Mirror{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// PublishEvent mirrors one room event. Failures degrade gracefully: the event
// is dropped from the mirror, never from in-process subscribers.
func (m *Mirror) PublishEvent(ctx context.Context, room types.RoomCode, ev types.Event) {
	if m == nil || m.client == nil {
		return
	}

	_, err := m.cb.Execute(func() (interface{}, error) {
		inner, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}

		data, err := json.Marshal(MirrorPayload{
			RoomCode: string(room),
			Seq:      ev.Seq,
			Kind:     string(ev.Kind),
			Payload:  inner,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal mirror envelope: %w", err)
		}

		// Channel schema: "findai:room:{code}"
		channel := fmt.Sprintf("findai:room:%s", room)
		return nil, m.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: dropping mirror publish",
				zap.String("room_code", string(room)))
			return
		}
		logging.Error(ctx, "Redis mirror publish failed",
			zap.String("room_code", string(room)), zap.Error(err))
	}
}

// Ping checks Redis connectivity. Used by readiness checks.
func (m *Mirror) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}

	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, m.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts down the Redis connection.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
