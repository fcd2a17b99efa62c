package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/flock/model"
	pkgmqtt "github.com/absmach/flock/pkg/mqtt"
)

// Topic layout. Clients announce themselves on the join topic, say
// goodbye (or have the broker say it for them via last will) on the
// leave topic, and answer per-operation request/response topics scoped
// by their ID.
const (
	JoinTopic         = "fl/clients/join"
	LeaveTopic        = "fl/clients/leave"
	requestTopicTmpl  = "fl/clients/%s/req/%s"
	responseTopicTmpl = "fl/clients/%s/res"
)

const (
	OpGetParameters = "parameters"
	OpFit           = "fit"
	OpEvaluate      = "evaluate"
)

var errRemote = errors.New("client reported an error")

// Announcement is the payload clients publish on JoinTopic and
// LeaveTopic.
type Announcement struct {
	ClientID   string            `json:"client_id"`
	Name       string            `json:"name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Envelope frames every request and response with a correlation ID so
// concurrent calls over the same topics stay distinguishable.
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Op            string          `json:"op"`
	Error         string          `json:"error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// mqttProxy reaches one remote client over the broker. Each operation
// publishes a request and blocks for the correlated response within
// the caller's timeout; at most one call per operation is in flight.
type mqttProxy struct {
	id     string
	props  map[string]string
	pubsub pkgmqtt.PubSub
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Envelope

	getMu  sync.Mutex
	fitMu  sync.Mutex
	evalMu sync.Mutex
}

// NewMQTTProxy subscribes to the client's response topic and returns a
// Proxy for it. Close the proxy by unregistering it and letting the
// listener unsubscribe.
func NewMQTTProxy(ctx context.Context, ann Announcement, pubsub pkgmqtt.PubSub, logger *slog.Logger) (Proxy, error) {
	p := newMQTTProxy(ann, pubsub, logger)
	if err := p.listen(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

func newMQTTProxy(ann Announcement, pubsub pkgmqtt.PubSub, logger *slog.Logger) *mqttProxy {
	return &mqttProxy{
		id:      ann.ClientID,
		props:   ann.Properties,
		pubsub:  pubsub,
		logger:  logger,
		pending: make(map[string]chan Envelope),
	}
}

// listen takes over the client's response topic. The broker keeps one
// handler per topic, so this must run exactly once per live client.
func (p *mqttProxy) listen(ctx context.Context) error {
	topic := fmt.Sprintf(responseTopicTmpl, p.id)
	if err := p.pubsub.Subscribe(ctx, topic, p.handleResponse); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	return nil
}

func (p *mqttProxy) ID() string {
	return p.id
}

func (p *mqttProxy) Properties() map[string]string {
	return p.props
}

func (p *mqttProxy) handleResponse(_ string, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}

	p.mu.Lock()
	ch, ok := p.pending[env.CorrelationID]
	delete(p.pending, env.CorrelationID)
	p.mu.Unlock()

	if !ok {
		// Response for an abandoned call, e.g. one that already timed
		// out. The caller has moved on, so drop it.
		p.logger.Debug("dropping uncorrelated response",
			slog.String("client_id", p.id),
			slog.String("correlation_id", env.CorrelationID))

		return nil
	}
	ch <- env

	return nil
}

// call performs one request/response exchange bounded by timeout.
func (p *mqttProxy) call(ctx context.Context, op string, req any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	cid := uuid.NewString()
	env, err := json.Marshal(Envelope{CorrelationID: cid, Op: op, Payload: body})
	if err != nil {
		return nil, err
	}

	ch := make(chan Envelope, 1)
	p.mu.Lock()
	p.pending[cid] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, cid)
		p.mu.Unlock()
	}()

	topic := fmt.Sprintf(requestTopicTmpl, p.id, op)
	if err := p.pubsub.Publish(ctx, topic, env); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, fmt.Errorf("%w: %s", errRemote, res.Error)
		}

		return res.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s: %w", ErrCallTimeout, timeout, ctx.Err())
	}
}

func (p *mqttProxy) GetParameters(ctx context.Context, timeout time.Duration) (model.Parameters, error) {
	p.getMu.Lock()
	defer p.getMu.Unlock()

	raw, err := p.call(ctx, OpGetParameters, struct{}{}, timeout)
	if err != nil {
		return nil, err
	}
	var params model.Parameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}

	return params, nil
}

func (p *mqttProxy) Fit(ctx context.Context, ins FitIns, timeout time.Duration) (FitRes, error) {
	p.fitMu.Lock()
	defer p.fitMu.Unlock()

	raw, err := p.call(ctx, OpFit, ins, timeout)
	if err != nil {
		return FitRes{}, err
	}
	var res FitRes
	if err := json.Unmarshal(raw, &res); err != nil {
		return FitRes{}, err
	}

	return res, nil
}

func (p *mqttProxy) Evaluate(ctx context.Context, ins EvaluateIns, timeout time.Duration) (EvaluateRes, error) {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	raw, err := p.call(ctx, OpEvaluate, ins, timeout)
	if err != nil {
		return EvaluateRes{}, err
	}
	var res EvaluateRes
	if err := json.Unmarshal(raw, &res); err != nil {
		return EvaluateRes{}, err
	}

	return res, nil
}

// Listener keeps the Manager in sync with the broker: clients joining
// become registered proxies, clients leaving are unregistered.
type Listener struct {
	pubsub  pkgmqtt.PubSub
	manager Manager
	logger  *slog.Logger

	mu      sync.Mutex
	proxies map[string]Proxy
}

func NewListener(pubsub pkgmqtt.PubSub, manager Manager, logger *slog.Logger) *Listener {
	return &Listener{
		pubsub:  pubsub,
		manager: manager,
		logger:  logger,
		proxies: make(map[string]Proxy),
	}
}

func (l *Listener) Start(ctx context.Context) error {
	if err := l.pubsub.Subscribe(ctx, JoinTopic, l.handleJoin(ctx)); err != nil {
		return err
	}

	return l.pubsub.Subscribe(ctx, LeaveTopic, l.handleLeave(ctx))
}

func (l *Listener) handleJoin(ctx context.Context) pkgmqtt.Handler {
	return func(_ string, payload []byte) error {
		var ann Announcement
		if err := json.Unmarshal(payload, &ann); err != nil {
			return err
		}
		if ann.ClientID == "" {
			return errors.New("join announcement without client_id")
		}

		// QoS 1 redelivers joins. A second announcement for a live
		// client must leave its proxy and response handler untouched.
		l.mu.Lock()
		_, known := l.proxies[ann.ClientID]
		l.mu.Unlock()
		if known {
			l.logger.Warn("ignoring duplicate join", slog.String("client_id", ann.ClientID))

			return nil
		}

		proxy := newMQTTProxy(ann, l.pubsub, l.logger)
		if err := l.manager.Register(proxy); err != nil {
			if errors.Is(err, ErrDuplicateClient) {
				l.logger.Warn("ignoring duplicate join", slog.String("client_id", ann.ClientID))

				return nil
			}

			return err
		}

		if err := proxy.listen(ctx); err != nil {
			l.manager.Unregister(proxy)

			return err
		}

		l.mu.Lock()
		l.proxies[ann.ClientID] = proxy
		l.mu.Unlock()

		return nil
	}
}

func (l *Listener) handleLeave(ctx context.Context) pkgmqtt.Handler {
	return func(_ string, payload []byte) error {
		var ann Announcement
		if err := json.Unmarshal(payload, &ann); err != nil {
			return err
		}

		l.mu.Lock()
		proxy, ok := l.proxies[ann.ClientID]
		delete(l.proxies, ann.ClientID)
		l.mu.Unlock()
		if !ok {
			return nil
		}

		l.manager.Unregister(proxy)

		return l.pubsub.Unsubscribe(ctx, fmt.Sprintf(responseTopicTmpl, ann.ClientID))
	}
}
