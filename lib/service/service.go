package service

import (
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/rabbitmq"
	"github.com/evpower/balancehub/store"
	"github.com/google/uuid"
	"github.com/ziflex/lecho/v3"
)

type BalanceHubService struct {
	Config         *Config
	Store          store.Store
	Gateway        gateway.Client
	Logger         *lecho.Logger
	Clock          Clock
	BalanceCache   *BalanceCache
	Poller         *Poller
	InvoicePubSub  *Pubsub
	Inflight       Locker
	RabbitMQClient rabbitmq.Client
	// InstanceID tags events published by this process
	InstanceID string

	pollPolicy   PollPolicy
	cacheBackend BalanceCacheBackend
}

type ServiceOption = func(svc *BalanceHubService)

func WithClock(clock Clock) ServiceOption {
	return func(svc *BalanceHubService) {
		svc.Clock = clock
	}
}

func WithBalanceCacheBackend(backend BalanceCacheBackend) ServiceOption {
	return func(svc *BalanceHubService) {
		svc.cacheBackend = backend
	}
}

func WithLocker(locker Locker) ServiceOption {
	return func(svc *BalanceHubService) {
		svc.Inflight = locker
	}
}

func WithRabbitMQClient(client rabbitmq.Client) ServiceOption {
	return func(svc *BalanceHubService) {
		svc.RabbitMQClient = client
	}
}

func WithPollPolicy(policy PollPolicy) ServiceOption {
	return func(svc *BalanceHubService) {
		svc.pollPolicy = policy
	}
}

// NewBalanceHubService wires the in-process defaults: memory cache, memory
// in-flight guard and a poller using the configured policy.
func NewBalanceHubService(c *Config, s store.Store, gw gateway.Client, logger *lecho.Logger, options ...ServiceOption) *BalanceHubService {
	svc := &BalanceHubService{
		Config:        c,
		Store:         s,
		Gateway:       gw,
		Logger:        logger,
		Clock:         RealClock{},
		InvoicePubSub: NewPubsub(),
		Inflight:      NewMemoryLocker(),
		InstanceID:    uuid.New().String(),
		pollPolicy:    PollPolicyFromConfig(c),
		cacheBackend:  NewMemoryCacheBackend(),
	}
	for _, opt := range options {
		opt(svc)
	}
	svc.BalanceCache = NewBalanceCache(s, svc.cacheBackend, c.BalanceCacheTTL, c.Currency, logger)
	svc.Poller = NewPoller(gw, svc.pollPolicy, svc.Clock, logger)
	return svc
}
