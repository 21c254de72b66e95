package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"envsurveillance/internal/observability/metrics"
	telemetry "envsurveillance/internal/telemetry/domain"
)

const (
	defaultKeyPrefix = "envsurveillance:latest:"
	defaultTTL       = 10 * time.Minute
)

// Values are "ts|id|json". A write lands only when its (ts, id) is not older
// than the cached one.
const advanceFunc = `
local function advance(key, ts, id, body, ttl)
  local current = redis.call("GET", key)
  if current then
    local first = string.find(current, "|", 1, true)
    local second = first and string.find(current, "|", first + 1, true)
    if first and second then
      local cts = tonumber(string.sub(current, 1, first - 1))
      local cid = tonumber(string.sub(current, first + 1, second - 1))
      local nts = tonumber(ts)
      local nid = tonumber(id)
      if cts and cid and (cts > nts or (cts == nts and cid >= nid)) then
        return 0
      end
    end
  end
  redis.call("SET", key, ts .. "|" .. id .. "|" .. body, "PX", ttl)
  return 1
end
`

// KEYS: value, generation. ARGV: ts, id, body, ttl ms, generation ttl ms.
// Every append bumps the generation, then advances an existing value.
const appendScript = advanceFunc + `
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[5])
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
return advance(KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
`

// KEYS: value, generation. ARGV: ts, id, body, ttl ms, observed generation.
// A fill is dropped when an append ran after the generation was observed.
const fillScript = advanceFunc + `
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[5] then
  return 0
end
return advance(KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
`

// Generation keys outlive values so an expiry cannot reset one mid-fill.
const generationTTLFactor = 6

// LatestCache keeps each device's newest point in Redis in front of a Store.
// Redis failures fall back to the wrapped store.
type LatestCache struct {
	inner    telemetry.Store
	client   *redis.Client
	onAppend *redis.Script
	onMiss   *redis.Script
	prefix   string
	ttl      time.Duration
	logger   *zap.Logger
}

// Option configures a LatestCache.
type Option func(*LatestCache)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(c *LatestCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL bounds how long a cached point may be served.
func WithTTL(ttl time.Duration) Option {
	return func(c *LatestCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for degraded-cache warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *LatestCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewLatestCache wraps inner with a Redis read-through cache for Latest.
func NewLatestCache(inner telemetry.Store, client *redis.Client, opts ...Option) (*LatestCache, error) {
	if inner == nil {
		return nil, errors.New("latest cache: nil store")
	}
	if client == nil {
		return nil, errors.New("latest cache: nil redis client")
	}
	c := &LatestCache{
		inner:    inner,
		client:   client,
		onAppend: redis.NewScript(appendScript),
		onMiss:   redis.NewScript(fillScript),
		prefix:   defaultKeyPrefix,
		ttl:      defaultTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *LatestCache) key(deviceEUI string) string {
	return c.prefix + deviceEUI
}

func (c *LatestCache) generationKey(deviceEUI string) string {
	return c.prefix + deviceEUI + ":gen"
}

// Append stores the point and advances the cached latest when one is present.
func (c *LatestCache) Append(ctx context.Context, p telemetry.Point) (telemetry.Point, error) {
	stored, err := c.inner.Append(ctx, p)
	if err != nil {
		return telemetry.Point{}, err
	}
	body, err := jsonEntry(stored)
	if err != nil {
		c.logger.Warn("latest cache: encode failed", zap.Error(err))
		return stored, nil
	}
	err = c.onAppend.Run(ctx, c.client,
		[]string{c.key(stored.DeviceEUI), c.generationKey(stored.DeviceEUI)},
		stored.TS.Unix(), stored.ID, body, c.ttl.Milliseconds(), generationTTLFactor*c.ttl.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn("latest cache: append update failed", zap.String("device_eui", stored.DeviceEUI), zap.Error(err))
	}
	return stored, nil
}

// Latest serves from Redis, filling the key from the store on a miss.
func (c *LatestCache) Latest(ctx context.Context, deviceEUI string) (telemetry.Point, error) {
	raw, err := c.client.Get(ctx, c.key(deviceEUI)).Result()
	switch {
	case err == nil:
		point, decodeErr := decodeEntry(raw)
		if decodeErr == nil {
			metrics.IncCacheLookup(metrics.CacheHit)
			return point, nil
		}
		metrics.IncCacheLookup(metrics.CacheError)
		c.logger.Warn("latest cache: corrupt entry", zap.String("device_eui", deviceEUI), zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
		metrics.IncCacheLookup(metrics.CacheMiss)
	default:
		metrics.IncCacheLookup(metrics.CacheError)
		c.logger.Warn("latest cache: get failed", zap.String("device_eui", deviceEUI), zap.Error(err))
		return c.inner.Latest(ctx, deviceEUI)
	}

	// The generation must be read before the store.
	generation, err := c.client.Get(ctx, c.generationKey(deviceEUI)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		generation = "0"
	case err != nil:
		c.logger.Warn("latest cache: generation read failed", zap.String("device_eui", deviceEUI), zap.Error(err))
		return c.inner.Latest(ctx, deviceEUI)
	}

	point, err := c.inner.Latest(ctx, deviceEUI)
	if err != nil {
		return telemetry.Point{}, err
	}
	c.fillEntry(ctx, point, generation)
	return point, nil
}

// History is not cached.
func (c *LatestCache) History(ctx context.Context, q telemetry.HistoryQuery) ([]telemetry.Point, error) {
	return c.inner.History(ctx, q)
}

// PurgeDevice evicts the device's cached point and invalidates in-flight fills.
func (c *LatestCache) PurgeDevice(ctx context.Context, deviceEUI string) error {
	genKey := c.generationKey(deviceEUI)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.PExpire(ctx, genKey, generationTTLFactor*c.ttl)
		pipe.Del(ctx, c.key(deviceEUI))
		return nil
	})
	return err
}

func (c *LatestCache) fillEntry(ctx context.Context, p telemetry.Point, generation string) {
	body, err := jsonEntry(p)
	if err != nil {
		c.logger.Warn("latest cache: encode failed", zap.Error(err))
		return
	}
	err = c.onMiss.Run(ctx, c.client,
		[]string{c.key(p.DeviceEUI), c.generationKey(p.DeviceEUI)},
		p.TS.Unix(), p.ID, body, c.ttl.Milliseconds(), generation).Err()
	if err != nil {
		c.logger.Warn("latest cache: fill failed", zap.String("device_eui", p.DeviceEUI), zap.Error(err))
	}
}

type entry struct {
	ID          int64    `json:"id"`
	DeviceEUI   string   `json:"device_eui"`
	TS          int64    `json:"ts"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Temperature *float64 `json:"temp,omitempty"`
	Battery     *float64 `json:"battery,omitempty"`
	RSSI        *float64 `json:"rssi,omitempty"`
	SNR         *float64 `json:"snr,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

func jsonEntry(p telemetry.Point) (string, error) {
	body, err := json.Marshal(entry{
		ID:          p.ID,
		DeviceEUI:   p.DeviceEUI,
		TS:          p.TS.Unix(),
		Lat:         p.Lat,
		Lng:         p.Lng,
		Temperature: p.Temperature,
		Battery:     p.Battery,
		RSSI:        p.RSSI,
		SNR:         p.SNR,
		CreatedAt:   p.CreatedAt.UnixMilli(),
	})
	return string(body), err
}

func decodeEntry(raw string) (telemetry.Point, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return telemetry.Point{}, fmt.Errorf("malformed entry %q", raw)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return telemetry.Point{}, err
	}
	var e entry
	if err := json.Unmarshal([]byte(parts[2]), &e); err != nil {
		return telemetry.Point{}, err
	}
	if e.TS != ts {
		return telemetry.Point{}, fmt.Errorf("entry ts mismatch: %d != %d", e.TS, ts)
	}
	return telemetry.Point{
		ID:          e.ID,
		DeviceEUI:   e.DeviceEUI,
		TS:          time.Unix(e.TS, 0).UTC(),
		Lat:         e.Lat,
		Lng:         e.Lng,
		Temperature: e.Temperature,
		Battery:     e.Battery,
		RSSI:        e.RSSI,
		SNR:         e.SNR,
		CreatedAt:   time.UnixMilli(e.CreatedAt).UTC(),
	}, nil
}
