package rediscache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	telemetry "envsurveillance/internal/telemetry/domain"
	"envsurveillance/internal/telemetry/infrastructure/memory"
)

const cacheEUI = "70B3D57ED0051234"

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "12|3", "x|1|{}", "5|1|{\"ts\":6}", "5|1|not-json"} {
		_, err := decodeEntry(raw)
		require.Error(t, err, raw)
	}
}

func TestDecodeEntry(t *testing.T) {
	temp := 4.5
	p := telemetry.Point{ID: 9, DeviceEUI: cacheEUI, TS: time.Unix(1714560000, 0).UTC(), Lat: 1, Lng: 2, Temperature: &temp, CreatedAt: time.UnixMilli(1714560000123).UTC()}
	body, err := jsonEntry(p)
	require.NoError(t, err)

	got, err := decodeEntry(strconv.FormatInt(p.TS.Unix(), 10) + "|9|" + body)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func newTestCache(t *testing.T, inner telemetry.Store) (*LatestCache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache, err := NewLatestCache(inner, client, WithKeyPrefix("test:"), WithTTL(time.Minute))
	require.NoError(t, err)
	return cache, server, client
}

func TestLatestCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	cache, server, _ := newTestCache(t, memory.NewPointStore())
	key := "test:" + cacheEUI

	_, err := cache.Latest(ctx, cacheEUI)
	require.ErrorIs(t, err, telemetry.ErrNoTelemetry)

	_, err = cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(200, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)
	require.False(t, server.Exists(key))

	latest, err := cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, int64(200), latest.TS.Unix())
	require.True(t, server.Exists(key))
	require.Equal(t, time.Minute, server.TTL(key))

	points, err := cache.History(ctx, telemetry.HistoryQuery{DeviceEUI: cacheEUI})
	require.NoError(t, err)
	require.Len(t, points, 1)
}

func TestLatestCacheOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newTestCache(t, memory.NewPointStore())

	first, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(200, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)
	_, err = cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)

	_, err = cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(100, 0), Lat: 2, Lng: 2})
	require.NoError(t, err)
	latest, err := cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, first.ID, latest.ID)

	tied, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(200, 0), Lat: 3, Lng: 3})
	require.NoError(t, err)
	latest, err = cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, tied.ID, latest.ID)
	require.InDelta(t, 3, latest.Lat, 1e-9)

	newer, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(300, 0), Lat: 4, Lng: 4})
	require.NoError(t, err)
	latest, err = cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, newer.ID, latest.ID)
}

func TestLatestCacheEntryExpires(t *testing.T) {
	ctx := context.Background()
	cache, server, _ := newTestCache(t, memory.NewPointStore())

	_, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(10, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)
	_, err = cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.True(t, server.Exists("test:"+cacheEUI))

	server.FastForward(2 * time.Minute)
	require.False(t, server.Exists("test:"+cacheEUI))

	latest, err := cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, int64(10), latest.TS.Unix())
}

// pausingStore holds its first Latest call after the read until released.
type pausingStore struct {
	telemetry.Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) Latest(ctx context.Context, deviceEUI string) (telemetry.Point, error) {
	p, err := s.Store.Latest(ctx, deviceEUI)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return p, err
}

type latestResult struct {
	point telemetry.Point
	err   error
}

func TestLatestCacheDropsFillOvertakenByAppend(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{Store: memory.NewPointStore(), read: make(chan struct{}), release: make(chan struct{})}
	cache, server, _ := newTestCache(t, store)

	older, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(100, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)

	done := make(chan latestResult, 1)
	go func() {
		p, err := cache.Latest(ctx, cacheEUI)
		done <- latestResult{point: p, err: err}
	}()
	<-store.read

	newer, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(200, 0), Lat: 2, Lng: 2})
	require.NoError(t, err)
	close(store.release)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, older.ID, res.point.ID)
	require.False(t, server.Exists("test:"+cacheEUI))

	latest, err := cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, newer.ID, latest.ID)
	require.Equal(t, int64(200), latest.TS.Unix())
}

func TestPurgeDeviceDropsEntryAndInFlightFill(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{Store: memory.NewPointStore(), read: make(chan struct{}), release: make(chan struct{})}
	cache, server, _ := newTestCache(t, store)

	_, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(100, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)

	done := make(chan latestResult, 1)
	go func() {
		p, err := cache.Latest(ctx, cacheEUI)
		done <- latestResult{point: p, err: err}
	}()
	<-store.read
	require.NoError(t, cache.PurgeDevice(ctx, cacheEUI))
	close(store.release)

	res := <-done
	require.NoError(t, res.err)
	require.False(t, server.Exists("test:"+cacheEUI))

	_, err = cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.True(t, server.Exists("test:"+cacheEUI))
	require.NoError(t, cache.PurgeDevice(ctx, cacheEUI))
	require.False(t, server.Exists("test:"+cacheEUI))
}

func TestLatestCacheFallsBackWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	inner := memory.NewPointStore()
	cache, err := NewLatestCache(inner, client)
	require.NoError(t, err)

	ctx := context.Background()
	stored, err := cache.Append(ctx, telemetry.Point{DeviceEUI: cacheEUI, TS: time.Unix(50, 0), Lat: 1, Lng: 1})
	require.NoError(t, err)
	latest, err := cache.Latest(ctx, cacheEUI)
	require.NoError(t, err)
	require.Equal(t, stored.ID, latest.ID)
}

func TestNewLatestCacheRequiresDependencies(t *testing.T) {
	_, err := NewLatestCache(nil, redis.NewClient(&redis.Options{}))
	require.Error(t, err)
	_, err = NewLatestCache(memory.NewPointStore(), nil)
	require.Error(t, err)
}
