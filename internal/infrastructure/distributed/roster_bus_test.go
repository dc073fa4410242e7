package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	sets       map[string]map[string]struct{}
	expiries   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]map[string]struct{}{}, expiries: map[string]time.Duration{}}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return redis.NewIntResult(0, f.publishErr)
	}
	f.published = append(f.published, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Subscribe(context.Context, ...string) *redis.PubSub {
	panic("not used by unit tests")
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = map[string]struct{}{}
	}
	for _, m := range members {
		f.sets[key][m.(string)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRosterBusPublish(t *testing.T) {
	fake := newFakeRedis()
	bus := NewRosterBus(fake, "instance-a", zaptest.NewLogger(t).Sugar())

	require.NoError(t, bus.PublishPeerJoined(context.Background(), "standup", "alice"))
	require.NoError(t, bus.PublishPeerLeft(context.Background(), "standup", "alice"))

	require.Len(t, fake.published, 2)
	assert.Equal(t, "callmesh:roster:standup", fake.published[0].channel)

	var msg RosterMessage
	require.NoError(t, json.Unmarshal(fake.published[0].payload, &msg))
	assert.Equal(t, ports.RosterPeerJoined, msg.Type)
	assert.Equal(t, "standup", msg.Room)
	assert.Equal(t, domain.PeerID("alice"), msg.PeerID)
	assert.Equal(t, "instance-a", msg.InstanceID)
	assert.False(t, msg.Timestamp.IsZero())

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.published[1].payload, &raw))
	assert.Equal(t, "peer.left", raw["type"])
	assert.Contains(t, raw, "peer_id")
	assert.Contains(t, raw, "instance_id")
}

func TestRosterBusPublishRejects(t *testing.T) {
	fake := newFakeRedis()
	bus := NewRosterBus(fake, "", zaptest.NewLogger(t).Sugar())
	assert.NotEmpty(t, bus.InstanceID())

	ctx := context.Background()
	assert.Error(t, bus.Publish(ctx, ports.RosterEvent{Type: "peer.kicked", Room: "r", Peer: "alice"}))
	assert.Error(t, bus.PublishPeerJoined(ctx, "", "alice"))
	assert.Error(t, bus.PublishPeerJoined(ctx, "room", "bad id"))
	assert.Empty(t, fake.published)

	fake.publishErr = errors.New("connection refused")
	assert.ErrorContains(t, bus.PublishPeerJoined(ctx, "room", "alice"), "connection refused")
}

func TestRosterBusPublishFailsFastWhenRedisIsDown(t *testing.T) {
	fake := newFakeRedis()
	fake.publishErr = errors.New("connection refused")
	bus := NewRosterBus(fake, "instance-a", zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	threshold := circuitbreaker.DefaultConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		assert.ErrorContains(t, bus.PublishPeerJoined(ctx, "room", "alice"), "connection refused")
	}

	fake.publishErr = nil
	assert.ErrorIs(t, bus.PublishPeerJoined(ctx, "room", "alice"), circuitbreaker.ErrOpen)
	assert.Empty(t, fake.published)
}

func TestRosterBusDispatch(t *testing.T) {
	bus := NewRosterBus(newFakeRedis(), "self", zaptest.NewLogger(t).Sugar())

	var got []ports.RosterEvent
	handler := func(_ context.Context, e ports.RosterEvent) error {
		got = append(got, e)
		return errors.New("handler errors are logged only")
	}

	encode := func(msg RosterMessage) string {
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		return string(data)
	}

	ctx := context.Background()
	bus.dispatch(ctx, encode(RosterMessage{Type: ports.RosterPeerJoined, Room: "r", PeerID: "bob", InstanceID: "other"}), handler)
	bus.dispatch(ctx, encode(RosterMessage{Type: ports.RosterPeerJoined, Room: "r", PeerID: "me", InstanceID: "self"}), handler)
	bus.dispatch(ctx, encode(RosterMessage{Type: "peer.kicked", Room: "r", PeerID: "bob", InstanceID: "other"}), handler)
	bus.dispatch(ctx, "{not json", handler)
	bus.dispatch(ctx, encode(RosterMessage{Type: ports.RosterPeerLeft, Room: "r", PeerID: "bob", InstanceID: "other"}), handler)

	assert.Equal(t, []ports.RosterEvent{
		{Type: ports.RosterPeerJoined, Room: "r", Peer: "bob"},
		{Type: ports.RosterPeerLeft, Room: "r", Peer: "bob"},
	}, got)
}

func TestRoomPresence(t *testing.T) {
	fake := newFakeRedis()
	presence := NewRoomPresence(fake, time.Minute, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, presence.Join(ctx, "standup", "carol"))
	require.NoError(t, presence.Join(ctx, "standup", "alice"))
	require.NoError(t, presence.Join(ctx, "standup", "alice"))
	assert.Error(t, presence.Join(ctx, "standup", ""))

	members, err := presence.Members(ctx, "standup")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice", "carol"}, members)
	assert.Equal(t, time.Minute, fake.expiries["callmesh:room:standup:peers"])

	require.NoError(t, presence.Leave(ctx, "standup", "carol"))
	members, err = presence.Members(ctx, "standup")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice"}, members)
}

// Runs against a real server when CALLMESH_TEST_REDIS_ADDR is set.
func TestRosterBusRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("CALLMESH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CALLMESH_TEST_REDIS_ADDR not set")
	}
	logger := zaptest.NewLogger(t).Sugar()

	client, err := NewRedisClient(addr, "", 0, 4, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	room := "roundtrip-" + time.Now().Format("150405.000000")
	subscriber := NewRosterBus(client, "sub", logger)
	publisher := NewRosterBus(client, "pub", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var peers []string
	done, err := subscriber.Listen(ctx, room, func(_ context.Context, e ports.RosterEvent) error {
		mu.Lock()
		peers = append(peers, string(e.Peer))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// the subscription is confirmed, so a single publish must arrive
	require.NoError(t, publisher.PublishPeerJoined(ctx, room, "alice"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(peers) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	sort.Strings(peers)
	assert.Equal(t, "alice", peers[0])
	mu.Unlock()
	require.NoError(t, subscriber.Close())
	<-done
}
