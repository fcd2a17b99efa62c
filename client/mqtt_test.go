package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
	pkgmqtt "github.com/absmach/flock/pkg/mqtt"
)

// fakePubSub is an in-process broker: Publish invokes the handler
// subscribed on the exact topic, asynchronously like a real broker
// would.
type fakePubSub struct {
	mu       sync.Mutex
	handlers map[string]pkgmqtt.Handler
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{handlers: make(map[string]pkgmqtt.Handler)}
}

func (f *fakePubSub) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	go func() {
		_ = h(topic, payload)
	}()

	return nil
}

func (f *fakePubSub) Subscribe(_ context.Context, topic string, handler pkgmqtt.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler

	return nil
}

func (f *fakePubSub) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)

	return nil
}

func (f *fakePubSub) Disconnect(context.Context) error {
	return nil
}

// respondFit wires a fake remote client answering fit requests with
// the given result.
func respondFit(t *testing.T, ps *fakePubSub, clientID string, res client.FitRes) {
	t.Helper()

	reqTopic := fmt.Sprintf("fl/clients/%s/req/fit", clientID)
	resTopic := fmt.Sprintf("fl/clients/%s/res", clientID)
	require.NoError(t, ps.Subscribe(context.Background(), reqTopic, func(_ string, payload []byte) error {
		var env client.Envelope
		require.NoError(t, json.Unmarshal(payload, &env))

		body, err := json.Marshal(res)
		require.NoError(t, err)
		out, err := json.Marshal(client.Envelope{CorrelationID: env.CorrelationID, Op: env.Op, Payload: body})
		require.NoError(t, err)

		return ps.Publish(context.Background(), resTopic, out)
	}))
}

func TestMQTTProxyFit(t *testing.T) {
	ps := newFakePubSub()
	respondFit(t, ps, "c1", client.FitRes{Parameters: model.Parameters{model.Scalar(1.5)}, NumExamples: 20})

	proxy, err := client.NewMQTTProxy(context.Background(), client.Announcement{ClientID: "c1"}, ps, slog.Default())
	require.NoError(t, err)

	res, err := proxy.Fit(context.Background(), client.FitIns{
		Parameters: model.Parameters{model.Scalar(0)},
		Config:     client.Config{"epochs": "1"},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.NumExamples)
	assert.Equal(t, 1.5, res.Parameters[0].Values[0])
}

func TestMQTTProxyTimeout(t *testing.T) {
	ps := newFakePubSub()
	// No responder subscribed: the call must end at its bound with a
	// tagged timeout error.
	proxy, err := client.NewMQTTProxy(context.Background(), client.Announcement{ClientID: "c1"}, ps, slog.Default())
	require.NoError(t, err)

	start := time.Now()
	_, err = proxy.Fit(context.Background(), client.FitIns{}, 30*time.Millisecond)
	assert.ErrorIs(t, err, client.ErrCallTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMQTTProxyRemoteError(t *testing.T) {
	ps := newFakePubSub()
	reqTopic := "fl/clients/c1/req/fit"
	resTopic := "fl/clients/c1/res"
	require.NoError(t, ps.Subscribe(context.Background(), reqTopic, func(_ string, payload []byte) error {
		var env client.Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		out, err := json.Marshal(client.Envelope{CorrelationID: env.CorrelationID, Op: env.Op, Error: "out of memory"})
		require.NoError(t, err)

		return ps.Publish(context.Background(), resTopic, out)
	}))

	proxy, err := client.NewMQTTProxy(context.Background(), client.Announcement{ClientID: "c1"}, ps, slog.Default())
	require.NoError(t, err)

	_, err = proxy.Fit(context.Background(), client.FitIns{}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestListenerRegistersJoiningClients(t *testing.T) {
	ps := newFakePubSub()
	cm := client.NewManager(slog.Default())
	listener := client.NewListener(ps, cm, slog.Default())
	require.NoError(t, listener.Start(context.Background()))

	join, err := json.Marshal(client.Announcement{ClientID: "c1", Properties: map[string]string{"tier": "edge"}})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(context.Background(), client.JoinTopic, join))

	require.Eventually(t, func() bool {
		return cm.NumAvailable() == 1
	}, time.Second, 5*time.Millisecond)

	leave, err := json.Marshal(client.Announcement{ClientID: "c1"})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(context.Background(), client.LeaveTopic, leave))

	require.Eventually(t, func() bool {
		return cm.NumAvailable() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestListenerKeepsProxyOnRedeliveredJoin(t *testing.T) {
	ps := newFakePubSub()
	cm := client.NewManager(slog.Default())
	listener := client.NewListener(ps, cm, slog.Default())
	require.NoError(t, listener.Start(context.Background()))

	respondFit(t, ps, "c1", client.FitRes{Parameters: model.Parameters{model.Scalar(1.0)}, NumExamples: 10})

	join, err := json.Marshal(client.Announcement{ClientID: "c1"})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(context.Background(), client.JoinTopic, join))
	require.Eventually(t, func() bool {
		return cm.NumAvailable() == 1
	}, time.Second, 5*time.Millisecond)

	proxy := cm.All()[0]
	_, err = proxy.Fit(context.Background(), client.FitIns{}, 500*time.Millisecond)
	require.NoError(t, err)

	// QoS 1 may redeliver the join. The registered proxy must keep
	// answering through its own response handler afterwards.
	require.NoError(t, ps.Publish(context.Background(), client.JoinTopic, join))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, cm.NumAvailable())

	_, err = proxy.Fit(context.Background(), client.FitIns{}, 500*time.Millisecond)
	assert.NoError(t, err)
}
