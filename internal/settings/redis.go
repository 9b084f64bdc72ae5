package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldEnabled        = "enabled"
	fieldSensitivity    = "sensitivity"
	fieldHapticFeedback = "haptic_feedback"

	// DefaultRedisPrefix namespaces the settings hash and change channel.
	DefaultRedisPrefix = "shakeskip"
)

// RedisStore keeps settings in a redis hash and announces every save on a
// pub/sub channel so other processes pick changes up without restarting.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	channel string
	logger  *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore uses "<prefix>:settings" as the hash and
// "<prefix>:settings:changed" as the channel.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	key := prefix + ":settings"
	return &RedisStore{
		client:  client,
		key:     key,
		channel: key + ":changed",
		logger:  logger,
	}
}

// Key returns the hash key.
func (r *RedisStore) Key() string { return r.key }

// Channel returns the pub/sub channel.
func (r *RedisStore) Channel() string { return r.channel }

func (r *RedisStore) Load(ctx context.Context) (Settings, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("read %s: %w", r.key, err)
	}
	return r.decodeHash(vals), nil
}

// decodeHash fills missing or malformed fields from Default.
func (r *RedisStore) decodeHash(vals map[string]string) Settings {
	s := Default()
	if v, ok := vals[fieldEnabled]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Enabled = b
		} else {
			r.logger.Warn("invalid stored setting", "field", fieldEnabled, "value", v)
		}
	}
	if v, ok := vals[fieldSensitivity]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Sensitivity = f
		} else {
			r.logger.Warn("invalid stored setting", "field", fieldSensitivity, "value", v)
		}
	}
	if v, ok := vals[fieldHapticFeedback]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.HapticFeedback = b
		} else {
			r.logger.Warn("invalid stored setting", "field", fieldHapticFeedback, "value", v)
		}
	}
	return s.Normalize()
}

func (r *RedisStore) Save(ctx context.Context, s Settings) (Settings, error) {
	s = s.Normalize()
	payload, err := json.Marshal(s)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}

	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key,
			fieldEnabled, strconv.FormatBool(s.Enabled),
			fieldSensitivity, strconv.FormatFloat(s.Sensitivity, 'f', -1, 64),
			fieldHapticFeedback, strconv.FormatBool(s.HapticFeedback),
		)
		p.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("write %s: %w", r.key, err)
	}
	return s, nil
}

// Watch subscribes before reading the current value so no change published
// in between is lost.
func (r *RedisStore) Watch(ctx context.Context) (<-chan Settings, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	cur, err := r.Load(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Settings, 1)
	out <- cur
	msgs := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s Settings
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					r.logger.Warn("invalid settings message", "channel", r.channel, "error", err)
					continue
				}
				select {
				case out <- s.Normalize():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
