package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/ziflex/lecho/v3"
)

// PollPolicy bounds how long and how often one invoice is polled. The first
// of MaxWait and MaxAttempts to be reached ends monitoring with ErrPollTimeout.
type PollPolicy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxWait      time.Duration
	MaxAttempts  int
}

func PollPolicyFromConfig(c *Config) PollPolicy {
	return PollPolicy{
		InitialDelay: c.PollInitialDelay,
		Interval:     c.PollInterval,
		MaxWait:      c.PollMaxWait,
		MaxAttempts:  c.PollMaxAttempts,
	}
}

type (
	// TerminalFunc receives the single terminal observation of an invoice.
	// Its context is not canceled when monitoring stops.
	TerminalFunc func(ctx context.Context, obs *gateway.StatusObservation)
	ErrorFunc    func(invoice *models.Invoice, err error)
	// TickFunc receives every non-terminal poll result, err is set when the
	// gateway could not be read.
	TickFunc func(invoice *models.Invoice, obs *gateway.StatusObservation, err error)
	// CancelFunc stops monitoring and reports whether a callback was still
	// pending. After it returns no callback of that monitor runs.
	CancelFunc func() bool
)

type MonitorOption = func(m *monitor)

func WithTickHandler(fn TickFunc) MonitorOption {
	return func(m *monitor) {
		m.onTick = fn
	}
}

const (
	monitorRunning = iota
	monitorFired
	monitorCanceled
)

type monitor struct {
	invoice    models.Invoice
	onTerminal TerminalFunc
	onError    ErrorFunc
	onTick     TickFunc
	cancel     context.CancelFunc

	// mu orders callback delivery against stop
	mu    sync.Mutex
	state int
}

func (m *monitor) stop() bool {
	m.mu.Lock()
	running := m.state == monitorRunning
	if running {
		m.state = monitorCanceled
	}
	m.mu.Unlock()
	m.cancel()
	return running
}

// claim moves the monitor to fired, false if it was canceled first.
func (m *monitor) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != monitorRunning {
		return false
	}
	m.state = monitorFired
	return true
}

func (m *monitor) tick(obs *gateway.StatusObservation, err error) {
	if m.onTick == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != monitorRunning {
		return
	}
	m.onTick(&m.invoice, obs, err)
}

// Poller owns one goroutine per monitored invoice.
type Poller struct {
	gateway gateway.Client
	policy  PollPolicy
	clock   Clock
	logger  *lecho.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
	closed   bool
	wg       sync.WaitGroup
}

func NewPoller(gw gateway.Client, policy PollPolicy, clock Clock, logger *lecho.Logger) *Poller {
	return &Poller{
		gateway:  gw,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		monitors: map[string]*monitor{},
	}
}

// Monitor starts polling the invoice. A monitor already running for the same
// invoice is superseded and stopped.
func (p *Poller) Monitor(invoice models.Invoice, onTerminal TerminalFunc, onError ErrorFunc, options ...MonitorOption) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{
		invoice:    invoice,
		onTerminal: onTerminal,
		onError:    onError,
		cancel:     cancel,
	}
	for _, opt := range options {
		opt(m)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		m.stop()
		return m.stop
	}
	previous := p.monitors[invoice.ID]
	p.monitors[invoice.ID] = m
	p.wg.Add(1)
	p.mu.Unlock()

	if previous != nil && previous.stop() {
		p.logger.Infof("Superseded monitor invoice_id:%s", invoice.ID)
	}
	monitorsActive.Inc()
	go p.run(ctx, m)

	return func() bool {
		p.forget(m)
		return m.stop()
	}
}

// Cancel stops the monitor of an invoice, if any.
func (p *Poller) Cancel(invoiceID string) bool {
	p.mu.Lock()
	m := p.monitors[invoiceID]
	delete(p.monitors, invoiceID)
	p.mu.Unlock()
	if m == nil {
		return false
	}
	return m.stop()
}

func (p *Poller) Monitoring(invoiceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.monitors[invoiceID]
	return ok
}

// StopAll cancels every monitor, refuses new ones and waits for running
// callbacks to return.
func (p *Poller) StopAll() {
	p.mu.Lock()
	p.closed = true
	monitors := p.monitors
	p.monitors = map[string]*monitor{}
	p.mu.Unlock()

	for _, m := range monitors {
		m.stop()
	}
	p.wg.Wait()
}

func (p *Poller) forget(m *monitor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.monitors[m.invoice.ID] == m {
		delete(p.monitors, m.invoice.ID)
	}
}

func (p *Poller) run(ctx context.Context, m *monitor) {
	defer p.wg.Done()
	defer monitorsActive.Dec()
	defer p.forget(m)

	timer := time.NewTimer(p.policy.InitialDelay)
	defer timer.Stop()
	var deadline <-chan time.Time
	if p.policy.MaxWait > 0 {
		deadlineTimer := time.NewTimer(p.policy.MaxWait)
		defer deadlineTimer.Stop()
		deadline = deadlineTimer.C
	}

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			p.timeout(m, attempts)
			return
		case <-timer.C:
		}

		attempts++
		obs, err := p.observe(ctx, m)
		if ctx.Err() != nil {
			return
		}
		if err == nil && obs.Terminal() {
			if m.claim() {
				p.logger.Infof("Invoice reached terminal state invoice_id:%s status:%s attempts:%d", m.invoice.ID, obs.Status, attempts)
				m.onTerminal(context.WithoutCancel(ctx), obs)
			}
			return
		}
		m.tick(obs, err)
		if p.policy.MaxAttempts > 0 && attempts >= p.policy.MaxAttempts {
			p.timeout(m, attempts)
			return
		}
		timer.Reset(p.policy.Interval)
	}
}

func (p *Poller) timeout(m *monitor, attempts int) {
	if !m.claim() {
		return
	}
	pollTicks.WithLabelValues("timeout").Inc()
	p.logger.Warnf("Gave up polling invoice_id:%s client_id:%s attempts:%d, ledger entry stays pending", m.invoice.ID, m.invoice.ClientID, attempts)
	if m.onError != nil {
		m.onError(&m.invoice, ErrPollTimeout)
	}
}

// observe reads the gateway once. Local expiry only applies to answers the
// gateway actually gave, an unreachable gateway never expires an invoice.
func (p *Poller) observe(ctx context.Context, m *monitor) (*gateway.StatusObservation, error) {
	obs, err := p.gateway.GetInvoiceStatus(ctx, m.invoice.ID)
	switch {
	case err == nil:
		if !obs.Terminal() && m.invoice.ExpiredAt(p.clock.Now()) {
			expired := *obs
			expired.Status = common.InvoiceStatusExpired
			obs = &expired
		}
		pollTicks.WithLabelValues(obs.Status).Inc()
		return obs, nil
	case ctx.Err() != nil:
		return nil, err
	case gateway.IsNetworkError(err):
		pollTicks.WithLabelValues("network_error").Inc()
		p.logger.Warnf("Gateway unreachable while polling invoice_id:%s: %v", m.invoice.ID, err)
	case errors.Is(err, gateway.ErrUnrecognizedStatus), errors.Is(err, gateway.ErrInvalidResponse):
		pollTicks.WithLabelValues("unrecognized").Inc()
		p.logger.Warnf("Unrecognized gateway answer for invoice_id:%s: %v", m.invoice.ID, err)
	default:
		pollTicks.WithLabelValues("error").Inc()
		p.logger.Errorf("Failed to poll invoice_id:%s: %v", m.invoice.ID, err)
	}
	return nil, err
}
