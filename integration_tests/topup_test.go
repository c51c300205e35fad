package integration_tests

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/lib/service"
	"github.com/evpower/balancehub/lib/tokens"
	"github.com/evpower/balancehub/lib/transport"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type TopUpTestSuite struct {
	TestSuite
	service  *service.BalanceHubService
	mgw      *MockGateway
	clientID string
	token    string
}

func (suite *TopUpTestSuite) SetupSuite() {
	if _, ok := databaseUri(); !ok {
		suite.T().Skip("DATABASE_URI not set")
	}
	suite.mgw = NewMockGateway()
	svc, err := BalanceHubTestServiceInit(suite.mgw)
	suite.Require().NoError(err)
	suite.service = svc

	e := transport.InitEcho(svc.Config, svc.Logger)
	logMw := transport.CreateLoggingMiddleware(svc.Logger)
	secured := e.Group("", tokens.Middleware(svc.Config.JWTSecret), logMw)
	transport.RegisterV2Endpoints(svc, e, secured, secured, tokens.AdminTokenMiddleware(svc.Config.AdminToken), logMw)
	suite.echo = e
}

func (suite *TopUpTestSuite) SetupTest() {
	suite.clientID = "client-" + uuid.New().String()
	token, err := tokens.GenerateAccessToken(suite.service.Config.JWTSecret, 3600, suite.clientID)
	suite.Require().NoError(err)
	suite.token = token
}

func (suite *TopUpTestSuite) TearDownSuite() {
	if suite.service == nil {
		return
	}
	suite.service.Poller.StopAll()
	clearTables(suite.service)
}

func (suite *TopUpTestSuite) waitForStatus(invoiceID, status string) {
	assert.Eventually(suite.T(), func() bool {
		invoice, err := suite.service.Store.FindInvoice(context.Background(), invoiceID)
		return err == nil && invoice.Status == status
	}, 5*time.Second, 20*time.Millisecond)
}

func (suite *TopUpTestSuite) TestTopUpPaid() {
	rec, invoice := suite.createTopUpReq("500", uuid.New().String(), suite.token)
	suite.Require().Equal(http.StatusCreated, rec.Code)
	suite.Equal(common.InvoiceStatusPending, invoice.Status)
	suite.True(decimal.RequireFromString(suite.getBalanceReq(suite.token).Amount).IsZero())

	suite.Require().NoError(suite.mgw.mockPaidInvoice(invoice.InvoiceID))
	suite.waitForStatus(invoice.InvoiceID, common.InvoiceStatusPaid)

	transaction, err := suite.service.Store.FindTransactionByInvoice(context.Background(), invoice.InvoiceID)
	suite.Require().NoError(err)
	suite.Equal(common.TransactionStatusSuccess, transaction.Status)
	suite.True(transaction.BalanceBefore.IsZero())
	suite.True(transaction.BalanceAfter.Equal(decimal.NewFromInt(500)))

	balance := suite.getBalanceReq(suite.token)
	suite.True(decimal.RequireFromString(balance.Amount).Equal(decimal.NewFromInt(500)))
	suite.False(balance.Stale)
}

func (suite *TopUpTestSuite) TestTopUpExpired() {
	rec, invoice := suite.createTopUpReq("250.50", uuid.New().String(), suite.token)
	suite.Require().Equal(http.StatusCreated, rec.Code)

	suite.Require().NoError(suite.mgw.mockExpiredInvoice(invoice.InvoiceID))
	suite.waitForStatus(invoice.InvoiceID, common.InvoiceStatusExpired)

	transaction, err := suite.service.Store.FindTransactionByInvoice(context.Background(), invoice.InvoiceID)
	suite.Require().NoError(err)
	suite.Equal(common.TransactionStatusFailed, transaction.Status)
	suite.True(decimal.RequireFromString(suite.getBalanceReq(suite.token).Amount).IsZero())
}

func (suite *TopUpTestSuite) TestTopUpIdempotencyKey() {
	key := uuid.New().String()
	rec, first := suite.createTopUpReq("100", key, suite.token)
	suite.Require().Equal(http.StatusCreated, rec.Code)
	rec, second := suite.createTopUpReq("100", key, suite.token)
	suite.Require().Equal(http.StatusCreated, rec.Code)
	suite.Equal(first.InvoiceID, second.InvoiceID)

	rec, _ = suite.createTopUpReq("200", key, suite.token)
	suite.Equal(http.StatusUnprocessableEntity, rec.Code)

	transactions, err := suite.service.Store.ListTransactions(context.Background(), suite.clientID, 10)
	suite.Require().NoError(err)
	suite.Len(transactions, 1)
}

func (suite *TopUpTestSuite) TestConcurrentReconciliationCreditsOnce() {
	ctx := context.Background()
	invoice, err := suite.service.CreateTopUp(ctx, service.TopUpRequest{
		ClientID:       suite.clientID,
		Amount:         decimal.NewFromInt(300),
		IdempotencyKey: uuid.New().String(),
	})
	suite.Require().NoError(err)
	suite.service.Poller.Cancel(invoice.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := suite.service.Reconcile(ctx, invoice.ID, common.InvoiceStatusPaid, decimal.NewNullDecimal(decimal.NewFromInt(300)))
			assert.NoError(suite.T(), err)
			if outcome == service.OutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	suite.Equal(1, applied)

	balance, err := suite.service.Store.ReadBalance(ctx, suite.clientID)
	suite.Require().NoError(err)
	suite.True(balance.Amount.Equal(decimal.NewFromInt(300)))
}

func TestTopUpTestSuite(t *testing.T) {
	suite.Run(t, new(TopUpTestSuite))
}
