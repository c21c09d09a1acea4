package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"prizepool/internal/epoch"
	"prizepool/internal/fixedpoint"
	"prizepool/internal/ledger"
	"prizepool/internal/ledger/memory"
	"prizepool/internal/model"
	"prizepool/internal/report"
)

// gatedStore holds the first n gated loads until release is closed, so that
// every caller reads the same snapshot before any of them commits.
type gatedStore struct {
	ledger.Store
	gateEpoch bool
	n         int32
	held      atomic.Int32
	arrived   chan struct{}
	release   chan struct{}
}

func newGatedStore(base ledger.Store, gateEpoch bool, n int32) *gatedStore {
	return &gatedStore{
		Store:     base,
		gateEpoch: gateEpoch,
		n:         n,
		arrived:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedStore) hold() {
	if g.held.Add(1) > g.n {
		return
	}
	g.arrived <- struct{}{}
	<-g.release
}

func (g *gatedStore) LoadEpoch(ctx context.Context, index uint64) (model.Epoch, error) {
	ep, err := g.Store.LoadEpoch(ctx, index)
	if g.gateEpoch {
		g.hold()
	}
	return ep, err
}

func (g *gatedStore) LoadDepositor(ctx context.Context, owner common.Address) (model.Depositor, bool, error) {
	dep, ok, err := g.Store.LoadDepositor(ctx, owner)
	if !g.gateEpoch {
		g.hold()
	}
	return dep, ok, err
}

// openAll releases the gate once all n callers are parked on it.
func (g *gatedStore) openAll() {
	for i := int32(0); i < g.n; i++ {
		<-g.arrived
	}
	close(g.release)
}

type failingSink struct {
	err error
}

func (f failingSink) PutEpochReports([]report.EpochReport) error {
	return f.err
}

func newServiceOn(store ledger.Store, logger *zap.Logger, sink report.Sink) *Service {
	cfg := Config{
		Limits:  epoch.DefaultLimits(),
		Now:     func() time.Time { return testNow },
		Reports: sink,
	}
	return NewService(cfg, store, nil, logger)
}

func TestConcurrentWithdrawAppliesOnce(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStore()
	setup := newServiceOn(base, nil, nil)
	if _, err := setup.CreateEpoch(ctx, testCfg(), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("create epoch: %v", err)
	}
	invest := fixedpoint.MustAmount("100")
	if _, err := setup.Invest(ctx, &invest, model.TicketSnapshot{NumTickets: 1}); err != nil {
		t.Fatalf("invest: %v", err)
	}

	// Two services over one store behave like two processes.
	gated := newGatedStore(base, true, 2)
	errs := make(chan error, 2)
	for _, svc := range []*Service{newServiceOn(gated, nil, nil), newServiceOn(gated, nil, nil)} {
		go func(svc *Service) {
			_, err := svc.Withdraw(ctx, fixedpoint.MustAmount("140"))
			errs <- err
		}(svc)
	}
	gated.openAll()

	var ok, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, epoch.ErrEpochStatus):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("withdraws: %d succeeded, %d rejected", ok, rejected)
	}

	status, err := setup.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State.Status != model.StatusFinalising {
		t.Fatalf("status: %s", status.State.Status)
	}
	mustAmount(t, status.Epoch.Returns.Total, "140")
	mustAmount(t, status.State.PendingFunds.Insurance, "10")
}

func TestConcurrentDepositsKeepAggregate(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStore()
	setup := newServiceOn(base, nil, nil)
	if _, err := setup.CreateEpoch(ctx, testCfg(), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("create epoch: %v", err)
	}

	gated := newGatedStore(base, false, 2)
	errs := make(chan error, 2)
	for _, owner := range []common.Address{alice, bob} {
		svc := newServiceOn(gated, nil, nil)
		go func(owner common.Address) {
			_, err := svc.Deposit(ctx, owner, fixedpoint.MustAmount("10"))
			errs <- err
		}(owner)
	}
	gated.openAll()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	for _, owner := range []common.Address{alice, bob} {
		bal, err := setup.Balance(ctx, owner)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		mustAmount(t, bal, "10")
	}
	ep, err := setup.Invest(ctx, nil, model.TicketSnapshot{NumTickets: 1})
	if err != nil {
		t.Fatalf("invest: %v", err)
	}
	mustAmount(t, *ep.TotalInvested, "20")
}

func TestServiceSerializesCallers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	if _, err := svc.CreateEpoch(ctx, testCfg(), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("create epoch: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Deposit(ctx, alice, fixedpoint.MustAmount("1")); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	mustAmount(t, bal, "16")
	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	mustAmount(t, status.Deposits, "16")
}

func TestReportFailureDoesNotFailCommittedWithdraw(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	svc := newServiceOn(memory.NewStore(), zap.New(core), failingSink{err: errors.New("disk full")})

	if _, err := svc.CreateEpoch(ctx, testCfg(), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("create epoch: %v", err)
	}
	invest := fixedpoint.MustAmount("100")
	if _, err := svc.Invest(ctx, &invest, model.TicketSnapshot{NumTickets: 1}); err != nil {
		t.Fatalf("invest: %v", err)
	}

	ep, err := svc.Withdraw(ctx, fixedpoint.MustAmount("90"))
	if err != nil {
		t.Fatalf("withdraw should succeed once committed: %v", err)
	}
	if ep.Status != model.StatusEnded {
		t.Fatalf("status: %s", ep.Status)
	}
	if got := logs.FilterMessage("write epoch report").Len(); got != 1 {
		t.Fatalf("report failure logs: %d", got)
	}

	// The next epoch proceeds normally.
	if _, err := svc.CreateEpoch(ctx, testCfg(), testNow.Add(2*time.Hour)); err != nil {
		t.Fatalf("create next epoch: %v", err)
	}
}

func TestLargeDepositValuedAfterLoss(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	if _, err := svc.CreateEpoch(ctx, testCfg(), testNow.Add(time.Hour)); err != nil {
		t.Fatalf("create epoch: %v", err)
	}
	if _, err := svc.Deposit(ctx, alice, fixedpoint.MustAmount("10000000000000000000000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Invest(ctx, nil, model.TicketSnapshot{NumTickets: 1}); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if _, err := svc.Withdraw(ctx, fixedpoint.MustAmount("9000000000000000000000")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	bal, err := svc.Balance(ctx, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	mustAmount(t, bal, "9000000000000000000000")
	if _, err := svc.WithdrawStake(ctx, alice, bal); err != nil {
		t.Fatalf("withdraw stake: %v", err)
	}
}
