package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"stressq/internal/client"
	"stressq/internal/client/sim"
	"stressq/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTimings() Timings {
	return Timings{
		ConnectTimeout:             time.Second,
		PersistentConnectTimeout:   time.Second,
		DisconnectTimeout:          200 * time.Millisecond,
		OperationTimeout:           time.Second,
		PersistentOperationTimeout: time.Second,
		PingTimeout:                time.Second,
		MarketDataTimeout:          time.Second,
		LatestBarTimeout:           time.Second,
		PlaceholderLatency:         time.Millisecond,
		StressPingPause:            time.Millisecond,
		PhaseBudget:                5 * time.Second,
		PhaseCoolOff:               0,
		MonitorInterval:            10 * time.Millisecond,
		TickInterval:               10 * time.Millisecond,
	}
}

func instantProfile() sim.Profile {
	return sim.Profile{StartingBalance: 100, Currency: "USD"}
}

func newTestRunner(cfg Config, f client.Factory) *Runner {
	r := NewRunner(cfg, f, nil)
	r.Timings = testTimings()
	return r
}

type stubClient struct {
	client.Client
	balance func(ctx context.Context) (*client.Balance, error)
}

func (s *stubClient) Balance(ctx context.Context) (*client.Balance, error) {
	if s.balance != nil {
		return s.balance(ctx)
	}
	return s.Client.Balance(ctx)
}

func TestRunStandardCountsEveryOperation(t *testing.T) {
	f := sim.NewFactory(instantProfile())
	r := newTestRunner(Config{ConcurrentClients: 3, OperationsPerClient: 10}, f)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 33, rep.Summary.TotalOperations)
	assert.Equal(t, 33, rep.Summary.SuccessfulOperations)
	assert.Equal(t, 0, rep.Summary.FailedOperations)
	assert.Equal(t, 1.0, rep.Summary.SuccessRate)
	assert.Equal(t, 3, rep.Operations[stats.KindConnect].SuccessCount)
	assert.Empty(t, rep.Errors)
	assert.Nil(t, rep.Trading)

	assert.Equal(t, 3, f.Disconnects())
	assert.Equal(t, 0, f.Connected())
	assert.Equal(t, 0, r.ActiveClients())
}

func TestRunConnectFailure(t *testing.T) {
	p := instantProfile()
	p.Errors = map[sim.Call]error{sim.CallConnect: errors.New("refused")}
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 3, OperationsPerClient: 10}, f)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Summary.TotalOperations)
	assert.Equal(t, 0.0, rep.Summary.SuccessRate)
	assert.Empty(t, rep.Operations)
	assert.Equal(t, map[stats.Kind]int{stats.KindConnect: 3}, rep.Errors)

	for _, res := range r.Stats.Snapshot().Results {
		assert.Equal(t, stats.KindConnect, res.Kind)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "refused")
	}
	assert.Equal(t, 3, f.Disconnects(), "disconnect runs even when connect fails")
	assert.Equal(t, 0, r.ActiveClients())
}

func TestRunSuppressesDisconnectErrors(t *testing.T) {
	p := instantProfile()
	p.Errors = map[sim.Call]error{sim.CallDisconnect: errors.New("already closed")}
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 2, OperationsPerClient: 3}, f)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Summary.TotalOperations)
	assert.Equal(t, 1.0, rep.Summary.SuccessRate)
	assert.Equal(t, 2, f.Disconnects())
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 0}, sim.NewFactory(instantProfile()))
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	r = newTestRunner(Config{ConcurrentClients: 1}, nil)
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunCancelledStillCleansUp(t *testing.T) {
	p := instantProfile()
	p.Latency = time.Hour
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 4, OperationsPerClient: 5}, f)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rep, err := r.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 4, rep.Summary.TotalOperations, "only the connects complete")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.Equal(t, 0, f.Connected())
	assert.Equal(t, 4, f.Disconnects())
	assert.Equal(t, 0, r.ActiveClients())
}

func TestRunPublishesFinalUpdate(t *testing.T) {
	updates := make(StatsUpdateChan, 1000)
	r := NewRunner(Config{ConcurrentClients: 1, OperationsPerClient: 2}, sim.NewFactory(instantProfile()), updates)
	r.Timings = testTimings()

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	var last StatsSnapshot
	for len(updates) > 0 {
		last = <-updates
	}
	assert.True(t, last.Done)
	assert.Equal(t, uint64(3), last.Requests)
	assert.Equal(t, 3, last.Expected)
}

func TestExecuteTimeout(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 1}, sim.NewFactory(instantProfile()))
	r.Timings.OperationTimeout = 20 * time.Millisecond

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	c := &stubClient{
		Client: r.Factory.NewClient(client.Options{}),
		balance: func(context.Context) (*client.Balance, error) {
			<-block // ignores its context
			return nil, nil
		},
	}

	w := r.newWorker("t", 0, 0, false, false)
	start := time.Now()
	w.execute(context.Background(), c, stats.KindBalance)
	assert.Less(t, time.Since(start), time.Second)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.Equal(t, stats.KindBalance, res[0].Kind)
	assert.False(t, res[0].Success)
	assert.Equal(t, "operation timeout", res[0].Error)
}

func TestExecuteRecordsClientErrors(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 1}, sim.NewFactory(instantProfile()))
	c := &stubClient{
		Client: r.Factory.NewClient(client.Options{}),
		balance: func(context.Context) (*client.Balance, error) {
			return nil, errors.New("rate limited")
		},
	}

	w := r.newWorker("t", 0, 0, false, false)
	w.execute(context.Background(), c, stats.KindBalance)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.Equal(t, "rate limited", res[0].Error)
}

func TestExecuteEmptyErrorIsFailure(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 1}, sim.NewFactory(instantProfile()))
	c := &stubClient{
		Client: r.Factory.NewClient(client.Options{}),
		balance: func(context.Context) (*client.Balance, error) {
			return nil, errors.New("")
		},
	}

	w := r.newWorker("t", 0, 0, false, false)
	w.execute(context.Background(), c, stats.KindBalance)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.False(t, res[0].Success)
	assert.Equal(t, "*errors.errorString", res[0].Error)
	assert.Zero(t, r.Stats.Success.Load())
	assert.Equal(t, uint64(1), r.Stats.Fail.Load())
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 1}, sim.NewFactory(instantProfile()))
	c := &stubClient{
		Client: r.Factory.NewClient(client.Options{}),
		balance: func(context.Context) (*client.Balance, error) {
			panic("nil session")
		},
	}

	w := r.newWorker("t", 0, 0, false, false)
	w.execute(context.Background(), c, stats.KindBalance)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.Equal(t, stats.KindUnknown, res[0].Kind)
	assert.Contains(t, res[0].Error, "nil session")
}

func TestExecutePayloads(t *testing.T) {
	f := sim.NewFactory(instantProfile())
	r := newTestRunner(Config{ConcurrentClients: 1}, f)
	c := f.NewClient(client.Options{})
	require.NoError(t, c.Connect(context.Background()))

	w := r.newWorker("t", 0, 0, false, false)
	for _, k := range []stats.Kind{stats.KindBalance, stats.KindCandles, stats.KindPing, stats.KindMarketData, stats.KindCheckOrder, stats.KindGetOrders} {
		w.execute(context.Background(), c, k)
	}

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 6)
	for _, rec := range res {
		assert.True(t, rec.Success, rec.Kind)
	}

	bal, _ := res[0].Float("balance")
	assert.Equal(t, 100.0, bal)

	count, _ := res[1].Float("candles_count")
	assert.GreaterOrEqual(t, count, 10.0)
	assert.LessOrEqual(t, count, 50.0)

	msg, _ := res[2].String("message")
	assert.Equal(t, "ping", msg)

	assets, _ := res[3].Float("assets")
	assert.Equal(t, 2.0, assets)

	orders, _ := res[4].Float("orders")
	assert.Equal(t, 0.0, orders)
}

func TestMarketDataToleratesFailures(t *testing.T) {
	p := instantProfile()
	p.Errors = map[sim.Call]error{sim.CallCandles: errors.New("no data")}
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 1}, f)
	c := f.NewClient(client.Options{})
	require.NoError(t, c.Connect(context.Background()))

	r.newWorker("t", 0, 0, false, false).execute(context.Background(), c, stats.KindMarketData)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.True(t, res[0].Success)
}

func TestPlaceOrderSimulatesOutcome(t *testing.T) {
	p := instantProfile()
	p.CandleDrift = 0.001
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 1}, f)
	c := f.NewClient(client.Options{})
	require.NoError(t, c.Connect(context.Background()))

	w := r.newWorker("t", 0, 0, false, true)
	for range 20 {
		w.execute(context.Background(), c, stats.KindPlaceOrder)
	}

	for _, res := range r.Stats.Snapshot().Results {
		require.True(t, res.Success)
		amount, _ := res.Float("amount")
		assert.GreaterOrEqual(t, amount, 1.0)
		assert.Less(t, amount, 10.0)

		dir, _ := res.String("direction")
		asset, _ := res.String("asset")
		payout, _ := res.Float("payout")
		assert.Equal(t, client.Payout(asset), payout)

		// Every bar closes above its open, so only calls win.
		win := res.Bool("win")
		assert.Equal(t, dir == string(client.Call), win)
		assert.Equal(t, win, res.Bool("success"))

		profit, _ := res.Float("simulated_profit")
		if win {
			assert.InDelta(t, amount*payout, profit, 1e-9)
		} else {
			assert.InDelta(t, -amount, profit, 1e-9)
		}
	}
}

func TestPlaceOrderSubmissionFailure(t *testing.T) {
	p := instantProfile()
	p.CandleDrift = 0.001
	p.Errors = map[sim.Call]error{sim.CallOrder: errors.New("market closed")}
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 1}, f)
	c := f.NewClient(client.Options{})
	require.NoError(t, c.Connect(context.Background()))

	r.newWorker("t", 0, 0, false, true).execute(context.Background(), c, stats.KindPlaceOrder)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.True(t, res[0].Success, "a rejected order is still a measured attempt")
	assert.False(t, res[0].Bool("success"))
}

func TestPlaceOrderFailsWithoutLatestBar(t *testing.T) {
	p := instantProfile()
	p.Errors = map[sim.Call]error{sim.CallCandles: errors.New("no data")}
	f := sim.NewFactory(p)
	r := newTestRunner(Config{ConcurrentClients: 1}, f)
	c := f.NewClient(client.Options{})
	require.NoError(t, c.Connect(context.Background()))

	r.newWorker("t", 0, 0, false, true).execute(context.Background(), c, stats.KindPlaceOrder)

	res := r.Stats.Snapshot().Results
	require.Len(t, res, 1)
	assert.False(t, res[0].Success)
	assert.Equal(t, "no data", res[0].Error)
}

func TestRunWithTrading(t *testing.T) {
	p := instantProfile()
	p.CandleDrift = -0.001
	r := newTestRunner(Config{ConcurrentClients: 2, OperationsPerClient: 40, IncludeTrades: true}, sim.NewFactory(p))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 82, rep.Summary.TotalOperations)

	orders := rep.Operations[stats.KindPlaceOrder].Count
	require.Positive(t, orders)
	require.NotNil(t, rep.Trading)
	assert.Equal(t, orders, rep.Trading.Trades)
	assert.Len(t, rep.Trades, orders)
}

func TestSimulatedProfit(t *testing.T) {
	assert.Equal(t, 8.0, SimulatedProfit(10, 0.8, true))
	assert.Equal(t, -10.0, SimulatedProfit(10, 0.8, false))
}

func TestOrderWins(t *testing.T) {
	tests := []struct {
		dir         client.Direction
		open, close float64
		want        bool
	}{
		{client.Call, 1.0, 1.1, true},
		{client.Call, 1.1, 1.0, false},
		{client.Put, 1.1, 1.0, true},
		{client.Put, 1.0, 1.1, false},
		{client.Call, 1.0, 1.0, false},
		{client.Put, 1.0, 1.0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OrderWins(tt.dir, tt.open, tt.close), "%s %v->%v", tt.dir, tt.open, tt.close)
	}
}

func TestOperationCandidates(t *testing.T) {
	basic := OperationCandidates(false)
	assert.ElementsMatch(t, []stats.Kind{stats.KindBalance, stats.KindCandles, stats.KindPing, stats.KindMarketData}, basic)

	all := OperationCandidates(true)
	counts := map[stats.Kind]int{}
	for _, k := range all {
		counts[k]++
	}
	assert.Len(t, all, 9)
	assert.Equal(t, 3, counts[stats.KindPlaceOrder])
	assert.Equal(t, 1, counts[stats.KindCheckOrder])
	assert.Equal(t, 1, counts[stats.KindGetOrders])
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{ConcurrentClients: -1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{ConcurrentClients: 1, OperationsPerClient: -1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{ConcurrentClients: 1, OperationDelay: -time.Second}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{ConcurrentClients: 1}.Validate())
}

func TestExpectedOperations(t *testing.T) {
	r := newTestRunner(Config{ConcurrentClients: 3, OperationsPerClient: 10}, nil)
	assert.Equal(t, 33, r.ExpectedOperations())

	r.Cfg.StressMode = true
	// (1 + 3 + 6 + 1) workers × 5 pings
	assert.Equal(t, 55, r.ExpectedOperations())
}

func TestRegistryDrain(t *testing.T) {
	f := sim.NewFactory(instantProfile())
	var g registry
	var clients []*sim.Client
	for i := range 3 {
		c := f.NewClient(client.Options{AutoReconnect: true}).(*sim.Client)
		if i < 2 {
			require.NoError(t, c.Connect(context.Background()))
		}
		g.add(c)
		clients = append(clients, c)
	}

	closed := g.drain(context.Background(), time.Second)
	assert.Equal(t, 2, closed)
	assert.Equal(t, 0, g.len())
	assert.Equal(t, 0, f.Connected())
	for _, c := range clients {
		assert.False(t, c.AutoReconnect())
	}
}
