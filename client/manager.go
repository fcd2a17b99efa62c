package client

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const defWaitTimeout = 24 * time.Hour

// Criterion filters proxies during sampling. A nil Criterion passes
// every proxy.
type Criterion func(Proxy) bool

// Manager is the registry of currently connected clients and the
// sampler the strategies draw from.
type Manager interface {
	// Register adds a client, failing with ErrDuplicateClient when a
	// live client with the same ID is already present.
	Register(p Proxy) error
	// Unregister removes a client. Unknown clients are ignored.
	Unregister(p Proxy)
	NumAvailable() int
	// WaitFor blocks until at least minClients are registered or the
	// timeout elapses, reporting whether the threshold was reached.
	WaitFor(minClients int, timeout time.Duration) bool
	// Sample waits for minClients and then picks up to num distinct
	// proxies passing criterion, uniformly without replacement. When
	// fewer than num pass it returns all of them; when the wait
	// deadline elapses it returns nil.
	Sample(num, minClients int, criterion Criterion) []Proxy
	All() []Proxy
}

type manager struct {
	mu          sync.Mutex
	clients     map[string]Proxy
	changed     chan struct{}
	rand        *rand.Rand
	waitTimeout time.Duration
	logger      *slog.Logger
}

// Option adjusts manager construction, mainly so tests can pin the
// random source and shorten the sampling wait.
type Option func(*manager)

func WithRand(r *rand.Rand) Option {
	return func(m *manager) {
		m.rand = r
	}
}

func WithWaitTimeout(d time.Duration) Option {
	return func(m *manager) {
		m.waitTimeout = d
	}
}

func NewManager(logger *slog.Logger, opts ...Option) Manager {
	m := &manager{
		clients:     make(map[string]Proxy),
		changed:     make(chan struct{}),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		waitTimeout: defWaitTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *manager) Register(p Proxy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[p.ID()]; ok {
		return ErrDuplicateClient
	}
	m.clients[p.ID()] = p
	m.notify()
	m.logger.Info("client registered", slog.String("client_id", p.ID()), slog.Int("available", len(m.clients)))

	return nil
}

func (m *manager) Unregister(p Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[p.ID()]; !ok {
		return
	}
	delete(m.clients, p.ID())
	m.notify()
	m.logger.Info("client unregistered", slog.String("client_id", p.ID()), slog.Int("available", len(m.clients)))
}

// notify wakes every waiter. Callers hold m.mu.
func (m *manager) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *manager) NumAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.clients)
}

func (m *manager) WaitFor(minClients int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if len(m.clients) >= minClients {
			m.mu.Unlock()

			return true
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

func (m *manager) Sample(num, minClients int, criterion Criterion) []Proxy {
	if !m.WaitFor(minClients, m.waitTimeout) {
		m.logger.Warn("sampling aborted, not enough clients",
			slog.Int("min_clients", minClients),
			slog.Int("available", m.NumAvailable()))

		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]Proxy, 0, len(m.clients))
	for _, id := range m.sortedIDs() {
		p := m.clients[id]
		if criterion == nil || criterion(p) {
			eligible = append(eligible, p)
		}
	}

	if len(eligible) <= num {
		return eligible
	}

	sampled := make([]Proxy, 0, num)
	for _, i := range m.rand.Perm(len(eligible))[:num] {
		sampled = append(sampled, eligible[i])
	}

	return sampled
}

func (m *manager) All() []Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Proxy, 0, len(m.clients))
	for _, id := range m.sortedIDs() {
		all = append(all, m.clients[id])
	}

	return all
}

// sortedIDs gives map iteration a stable order so an injected random
// source yields reproducible samples. Callers hold m.mu.
func (m *manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
