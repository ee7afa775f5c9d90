package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gatewayStub struct {
	accounts    map[string]interface{}
	accountsErr error
	offers      map[string]interface{}
	offersErr   error
	plan        map[string]interface{}
	planErr     error
	blocks      []domain.SettlementBlock
	blocksErr   error
	initiate    *gatewayclient.RawResponse
	initiateErr error

	fetchCalls    int
	offersCalls   int
	initiateCalls []string
}

func (g *gatewayStub) FetchAccounts(ctx context.Context, customerID string) (map[string]interface{}, error) {
	g.fetchCalls++
	return g.accounts, g.accountsErr
}

func (g *gatewayStub) FetchOffers(ctx context.Context) (map[string]interface{}, error) {
	g.offersCalls++
	return g.offers, g.offersErr
}

func (g *gatewayStub) CreatePaymentPlan(ctx context.Context, amount decimal.Decimal, customerID string) (map[string]interface{}, error) {
	return g.plan, g.planErr
}

func (g *gatewayStub) GetPaymentPlanBlocks(ctx context.Context, paymentPlanID, customerID string) ([]domain.SettlementBlock, error) {
	return g.blocks, g.blocksErr
}

func (g *gatewayStub) InitiatePayment(ctx context.Context, paymentPlanID, blockID string, amount decimal.Decimal, customerID string) (*gatewayclient.RawResponse, error) {
	g.initiateCalls = append(g.initiateCalls, paymentPlanID+"/"+blockID+"/"+amount.String())
	return g.initiate, g.initiateErr
}

// rawAccounts decodes a gateway body the same way the real client does.
func rawAccounts(body string) map[string]interface{} {
	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		panic(err)
	}
	return raw
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, l.retryAfter, l.err
}

type syncerStub struct {
	errs  map[string]error
	calls []string
}

func (s *syncerStub) SyncCustomer(ctx context.Context, customerID, trigger string) (domain.AccountSummary, error) {
	s.calls = append(s.calls, customerID+":"+trigger)
	return domain.AccountSummary{}, s.errs[customerID]
}
