package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects monitor callbacks.
type recorder struct {
	mu        sync.Mutex
	terminals []*gateway.StatusObservation
	errs      []error
	ticks     []error
	done      chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) onTerminal(ctx context.Context, obs *gateway.StatusObservation) {
	r.mu.Lock()
	r.terminals = append(r.terminals, obs)
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) onError(invoice *models.Invoice, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) onTick(invoice *models.Invoice, obs *gateway.StatusObservation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, err)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}
}

func (r *recorder) snapshot() ([]*gateway.StatusObservation, []error, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*gateway.StatusObservation{}, r.terminals...), append([]error{}, r.errs...), append([]error{}, r.ticks...)
}

func testPolicy() PollPolicy {
	return PollPolicy{
		InitialDelay: time.Millisecond,
		Interval:     2 * time.Millisecond,
		MaxWait:      time.Minute,
		MaxAttempts:  40,
	}
}

func testInvoice(id string, expiresAt time.Time) models.Invoice {
	return models.Invoice{ID: id, ClientID: "client-1", Status: common.InvoiceStatusPending, ExpiresAt: expiresAt}
}

func TestPollerReportsPaid(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", statusReply{status: common.InvoiceStatusPending}, statusReply{status: common.InvoiceStatusPending}, paidReply(500))
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError, WithTickHandler(r.onTick))
	r.wait(t)

	terminals, errs, ticks := r.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, common.InvoiceStatusPaid, terminals[0].Status)
	assert.Equal(t, "500", terminals[0].PaidAmount.Decimal.String())
	assert.Empty(t, errs)
	assert.Len(t, ticks, 2)
	assert.Equal(t, 3, gw.callsFor("inv-1"))
	assert.Eventually(t, func() bool { return !p.Monitoring("inv-1") }, time.Second, time.Millisecond)
}

func TestPollerTimesOutAfterMaxAttempts(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	policy := testPolicy()
	policy.MaxAttempts = 3
	p := NewPoller(gw, policy, clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError)
	r.wait(t)
	p.StopAll()

	terminals, errs, _ := r.snapshot()
	assert.Empty(t, terminals)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPollTimeout)
	assert.Equal(t, 3, gw.callsFor("inv-1"))
}

func TestPollerTimesOutAfterMaxWait(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	policy := PollPolicy{InitialDelay: time.Millisecond, Interval: 10 * time.Millisecond, MaxWait: 60 * time.Millisecond}
	p := NewPoller(gw, policy, clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError)
	r.wait(t)
	p.StopAll()

	terminals, errs, _ := r.snapshot()
	assert.Empty(t, terminals)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPollTimeout)
	assert.Greater(t, gw.callsFor("inv-1"), 1)
}

func TestPollerKeepsPollingThroughNetworkErrors(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", networkReply(), networkReply(), paidReply(100))
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError, WithTickHandler(r.onTick))
	r.wait(t)

	terminals, errs, ticks := r.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, common.InvoiceStatusPaid, terminals[0].Status)
	assert.Empty(t, errs)
	require.Len(t, ticks, 2)
	assert.True(t, gateway.IsNetworkError(ticks[0]))
}

func TestPollerExpiresOnLocalClock(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(-time.Second)), r.onTerminal, r.onError)
	r.wait(t)

	terminals, errs, _ := r.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, common.InvoiceStatusExpired, terminals[0].Status)
	assert.Empty(t, errs)
}

func TestPollerPaidWinsOverLocalExpiry(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", paidReply(100))
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(-time.Second)), r.onTerminal, r.onError)
	r.wait(t)

	terminals, _, _ := r.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, common.InvoiceStatusPaid, terminals[0].Status)
}

func TestPollerUnreachableGatewayNeverExpires(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", networkReply())
	policy := testPolicy()
	policy.MaxAttempts = 3
	p := NewPoller(gw, policy, clock, testLogger())

	r := newRecorder()
	p.Monitor(testInvoice("inv-1", clock.Now().Add(-time.Second)), r.onTerminal, r.onError)
	r.wait(t)
	p.StopAll()

	terminals, errs, _ := r.snapshot()
	assert.Empty(t, terminals)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPollTimeout)
}

func TestPollerCancelBeforeFirstTick(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", paidReply(100))
	policy := testPolicy()
	policy.InitialDelay = 50 * time.Millisecond
	p := NewPoller(gw, policy, clock, testLogger())

	r := newRecorder()
	cancel := p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError)
	assert.True(t, cancel())
	assert.False(t, p.Monitoring("inv-1"))
	p.StopAll()

	terminals, errs, _ := r.snapshot()
	assert.Empty(t, terminals)
	assert.Empty(t, errs)
	assert.Equal(t, 0, gw.callsFor("inv-1"))
}

func TestPollerCancelAfterTerminal(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", paidReply(100))
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	r := newRecorder()
	cancel := p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError)
	r.wait(t)
	assert.False(t, cancel())
}

func TestPollerNoCallbackAfterCancel(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	for i := 0; i < 50; i++ {
		r := newRecorder()
		cancel := p.Monitor(testInvoice("inv-1", clock.Now().Add(time.Hour)), r.onTerminal, r.onError, WithTickHandler(r.onTick))
		time.Sleep(time.Duration(i%5) * time.Millisecond)
		cancel()
		_, _, ticksAtCancel := r.snapshot()
		gw.script("inv-1", paidReply(100))
		time.Sleep(5 * time.Millisecond)

		terminals, errs, ticks := r.snapshot()
		assert.Empty(t, terminals)
		assert.Empty(t, errs)
		assert.Equal(t, len(ticksAtCancel), len(ticks))
		gw.script("inv-1")
	}
	p.StopAll()
}

func TestPollerSupersedesMonitorOfSameInvoice(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	gw.script("inv-1", paidReply(100))
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	first := newRecorder()
	second := newRecorder()
	invoice := testInvoice("inv-1", clock.Now().Add(time.Hour))
	firstCancel := p.Monitor(invoice, first.onTerminal, first.onError)
	p.Monitor(invoice, second.onTerminal, second.onError)
	second.wait(t)
	p.StopAll()

	terminals, _, _ := first.snapshot()
	assert.Empty(t, terminals)
	assert.False(t, firstCancel())
	terminals, _, _ = second.snapshot()
	assert.Len(t, terminals, 1)
}

func TestPollerStopAll(t *testing.T) {
	gw := newFakeGateway()
	clock := newFakeClock()
	p := NewPoller(gw, testPolicy(), clock, testLogger())

	recorders := []*recorder{}
	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		r := newRecorder()
		recorders = append(recorders, r)
		p.Monitor(testInvoice(id, clock.Now().Add(time.Hour)), r.onTerminal, r.onError)
	}
	time.Sleep(10 * time.Millisecond)
	p.StopAll()

	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		assert.False(t, p.Monitoring(id))
	}
	gw.script("inv-4", paidReply(1))
	late := newRecorder()
	cancel := p.Monitor(testInvoice("inv-4", clock.Now().Add(time.Hour)), late.onTerminal, late.onError)
	assert.False(t, cancel())
	time.Sleep(10 * time.Millisecond)

	for _, r := range append(recorders, late) {
		terminals, errs, _ := r.snapshot()
		assert.Empty(t, terminals)
		assert.Empty(t, errs)
	}
	assert.Equal(t, 0, gw.callsFor("inv-4"))
}
