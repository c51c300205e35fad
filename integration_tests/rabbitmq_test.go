package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/evpower/balancehub/common"
	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/lib/service"
	"github.com/evpower/balancehub/lib/tokens"
	"github.com/evpower/balancehub/lib/transport"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RabbitMQTestSuite struct {
	TestSuite
	mgw            *MockGateway
	svc            *service.BalanceHubService
	token          string
	cancelPublish  context.CancelFunc
	testQueueName  string
	publisherError chan error
}

func (suite *RabbitMQTestSuite) SetupSuite() {
	if _, ok := databaseUri(); !ok {
		suite.T().Skip("DATABASE_URI not set")
	}
	if _, ok := os.LookupEnv("RABBITMQ_URI"); !ok {
		suite.T().Skip("RABBITMQ_URI not set")
	}
	suite.mgw = NewMockGateway()
	svc, err := BalanceHubTestServiceInit(suite.mgw)
	suite.Require().NoError(err)
	suite.svc = svc
	suite.testQueueName = "test_balancehub_topups_" + uuid.New().String()

	token, err := tokens.GenerateAccessToken(svc.Config.JWTSecret, 3600, "client-"+uuid.New().String())
	suite.Require().NoError(err)
	suite.token = token

	e := transport.InitEcho(svc.Config, svc.Logger)
	logMw := transport.CreateLoggingMiddleware(svc.Logger)
	secured := e.Group("", tokens.Middleware(svc.Config.JWTSecret), logMw)
	transport.RegisterV2Endpoints(svc, e, secured, secured, tokens.AdminTokenMiddleware(svc.Config.AdminToken), logMw)
	suite.echo = e

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancelPublish = cancel
	suite.publisherError = make(chan error, 1)
	go func() {
		suite.publisherError <- svc.StartRabbitMqPublisher(ctx)
	}()
	assert.Eventually(suite.T(), func() bool {
		return svc.InvoicePubSub.Subscribers(service.TopicTopUps) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func (suite *RabbitMQTestSuite) TestPublishTopUp() {
	conn, err := amqp.Dial(suite.svc.Config.RabbitMQUri)
	suite.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	suite.Require().NoError(err)
	defer ch.Close()

	q, err := ch.QueueDeclare(suite.testQueueName, false, true, true, false, nil)
	suite.Require().NoError(err)
	err = ch.QueueBind(q.Name, "topup.#", suite.svc.Config.RabbitMQTopUpExchange, false, nil)
	suite.Require().NoError(err)

	m, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	suite.Require().NoError(err)

	rec, invoice := suite.createTopUpReq("750", uuid.New().String(), suite.token)
	suite.Require().Equal(http.StatusCreated, rec.Code)
	suite.Require().NoError(suite.mgw.mockPaidInvoice(invoice.InvoiceID))

	select {
	case msg := <-m:
		suite.Equal("topup."+common.InvoiceStatusPaid, msg.RoutingKey)
		event := models.TopUpEvent{}
		suite.Require().NoError(json.Unmarshal(msg.Body, &event))
		suite.Equal(invoice.InvoiceID, event.InvoiceID)
		suite.Equal(common.TransactionStatusSuccess, event.TransactionStatus)
		suite.Equal(suite.svc.InstanceID, event.Origin)
	case <-time.After(10 * time.Second):
		suite.Fail("no top-up was published")
	}
}

func (suite *RabbitMQTestSuite) TearDownSuite() {
	if suite.svc == nil {
		return
	}
	suite.cancelPublish()
	select {
	case err := <-suite.publisherError:
		suite.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		suite.Fail("publisher did not stop")
	}
	suite.svc.Poller.StopAll()
	clearTables(suite.svc)
}

func TestRabbitMQTestSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQTestSuite))
}
