package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"stressq/internal/client"
	"stressq/internal/stats"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	basicOperations   = []stats.Kind{stats.KindBalance, stats.KindCandles, stats.KindPing, stats.KindMarketData}
	tradingOperations = []stats.Kind{
		stats.KindPlaceOrder, stats.KindPlaceOrder, stats.KindPlaceOrder,
		stats.KindCheckOrder, stats.KindGetOrders,
	}
	marketDataAssets = []string{"EURUSD", "GBPUSD"}
)

// OperationCandidates returns the multiset operations are drawn from.
// place_order appears three times so it is picked three times as often as
// the other trading operations.
func OperationCandidates(includeTrading bool) []stats.Kind {
	ops := append([]stats.Kind(nil), basicOperations...)
	if includeTrading {
		ops = append(ops, tradingOperations...)
	}
	return ops
}

// OrderWins reports whether a simulated order in direction dir wins on a bar
// moving from open to close.
func OrderWins(dir client.Direction, open, close float64) bool {
	return (dir == client.Call && close > open) || (dir == client.Put && close < open)
}

// SimulatedProfit is amount×payout for a win and the lost stake otherwise.
func SimulatedProfit(amount, payout float64, win bool) float64 {
	if win {
		return amount * payout
	}
	return -amount
}

// worker drives one virtual user against its own client handle.
type worker struct {
	r          *Runner
	id         string
	ops        int
	delay      time.Duration
	persistent bool
	trading    bool

	rnd *rand.Rand
	log zerolog.Logger
}

func (r *Runner) newWorker(id string, ops int, delay time.Duration, persistent, trading bool) *worker {
	return &worker{
		r:          r,
		id:         id,
		ops:        ops,
		delay:      delay,
		persistent: persistent,
		trading:    trading,
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:        r.Log.With().Str("client", id).Logger(),
	}
}

// hooks replace the default handlers of the underlying client.
// clientHooks logs connection events at debug level. Socket.IO event
// frames are too frequent to log.
func clientHooks(log zerolog.Logger) client.Hooks {
	return client.Hooks{
		OnConnected: func() {
			log.Debug().Msg("connected handler")
		},
		OnMessage: func(msg []byte) {
			if strings.HasPrefix(string(msg), "42[") {
				return
			}
			log.Debug().Int("bytes", len(msg)).Msg("message handled")
		},
	}
}

func (w *worker) options() client.Options {
	return client.Options{
		ID:            w.id,
		SSID:          w.r.Cfg.SSID,
		Demo:          w.r.Cfg.Demo,
		Persistent:    w.persistent,
		AutoReconnect: w.persistent,
		Hooks:         clientHooks(w.log),
	}
}

func (w *worker) record(kind stats.Kind, start time.Time, err error, data map[string]any) {
	msg := ""
	if err != nil {
		msg = errorMessage(err)
	}
	w.r.Stats.Record(stats.NewResult(kind, start, time.Now(), msg, data))
}

// releaseClient disconnects c on a context detached from ctx so cleanup
// still runs after cancellation. Errors are dropped.
func (w *worker) releaseClient(ctx context.Context, c client.Client) {
	err := run(context.WithoutCancel(ctx), w.r.Timings.DisconnectTimeout, c.Disconnect)
	if err != nil {
		w.log.Debug().Err(err).Msg("disconnect failed")
	}
}

// Run connects, performs the configured number of operations and always
// disconnects.
func (w *worker) Run(ctx context.Context) {
	c := w.r.Factory.NewClient(w.options())
	w.r.clients.add(c)
	defer w.releaseClient(ctx, c)

	timeout := w.r.Timings.ConnectTimeout
	if w.persistent {
		timeout = w.r.Timings.PersistentConnectTimeout
	}

	start := time.Now()
	err := run(ctx, timeout, c.Connect)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, ErrOperationTimeout) {
			w.log.Warn().Msg("connect timed out")
		} else {
			w.log.Warn().Err(err).Msg("connect failed")
		}
		w.record(stats.KindConnect, start, connectError(err), nil)
		return
	}
	w.record(stats.KindConnect, start, nil, map[string]any{"client_id": w.id})
	w.log.Info().Msg("client connected")

	for n := 0; n < w.ops; n++ {
		if ctx.Err() != nil {
			return
		}
		w.execute(ctx, c, w.choose())
		if w.delay > 0 {
			if sleep(ctx, w.delay) != nil {
				return
			}
		}
	}
}

func (w *worker) choose() stats.Kind {
	ops := OperationCandidates(w.trading)
	return ops[w.rnd.IntN(len(ops))]
}

func (w *worker) execute(ctx context.Context, c client.Client, kind stats.Kind) {
	w.r.inflight.Add(1)
	defer w.r.inflight.Add(-1)

	start := time.Now()
	data, err := w.perform(ctx, c, kind)
	if ctx.Err() != nil {
		// Cancelled mid-operation; the attempt is not measured.
		return
	}

	var p panicError
	if errors.As(err, &p) {
		w.log.Error().Str("operation", string(kind)).Msg(p.Error())
		kind = stats.KindUnknown
	}
	w.record(kind, start, err, data)
}

func (w *worker) opTimeout() time.Duration {
	if w.persistent {
		return w.r.Timings.PersistentOperationTimeout
	}
	return w.r.Timings.OperationTimeout
}

func (w *worker) perform(ctx context.Context, c client.Client, kind stats.Kind) (map[string]any, error) {
	t := w.r.Timings
	switch kind {
	case stats.KindBalance:
		b, err := within(ctx, w.opTimeout(), c.Balance)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return map[string]any{"balance": nil}, nil
		}
		return map[string]any{"balance": b.Balance, "currency": b.Currency}, nil

	case stats.KindCandles:
		asset := w.randomAsset()
		tfs := client.TimeframeSeconds()
		tf := tfs[w.rnd.IntN(len(tfs))]
		count := 10 + w.rnd.IntN(41)
		bars, err := within(ctx, w.opTimeout(), func(ctx context.Context) ([]client.Candle, error) {
			return c.Candles(ctx, asset, tf, count)
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"asset": asset, "timeframe": tf, "candles_count": len(bars)}, nil

	case stats.KindPing:
		err := run(ctx, t.PingTimeout, func(ctx context.Context) error {
			return c.SendMessage(ctx, client.KeepAliveMessage)
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"message": "ping"}, nil

	case stats.KindMarketData:
		var g errgroup.Group
		for _, asset := range marketDataAssets {
			g.Go(func() error {
				_, err := within(ctx, t.MarketDataTimeout, func(ctx context.Context) ([]client.Candle, error) {
					return c.Candles(ctx, asset, 60, 5)
				})
				return err
			})
		}
		if err := g.Wait(); err != nil {
			w.log.Debug().Err(err).Msg("market data request failed")
		}
		return map[string]any{"assets": len(marketDataAssets)}, nil

	case stats.KindPlaceOrder:
		return w.placeOrder(ctx, c)

	case stats.KindCheckOrder, stats.KindGetOrders:
		if err := sleep(ctx, t.PlaceholderLatency); err != nil {
			return nil, err
		}
		return map[string]any{"orders": 0}, nil
	}
	return nil, fmt.Errorf("unsupported operation %q", kind)
}

// placeOrder submits a real order and then simulates its outcome from the
// latest bar. Settlement is never awaited.
func (w *worker) placeOrder(ctx context.Context, c client.Client) (map[string]any, error) {
	asset := w.randomAsset()
	amount := 1 + w.rnd.Float64()*9
	dir := client.Call
	if w.rnd.IntN(2) == 1 {
		dir = client.Put
	}

	order, orderErr := within(ctx, w.opTimeout(), func(ctx context.Context) (*client.Order, error) {
		return c.PlaceOrder(ctx, asset, amount, dir, OrderDuration)
	})
	if orderErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log.Debug().Err(orderErr).Str("asset", asset).Msg("order submission failed")
	}

	bars, err := within(ctx, w.r.Timings.LatestBarTimeout, func(ctx context.Context) ([]client.Candle, error) {
		return c.Candles(ctx, asset, 60, 1)
	})
	if err != nil {
		return nil, err
	}
	open, close := 1.0, 1.0
	if len(bars) > 0 {
		last := bars[len(bars)-1]
		open, close = last.Open, last.Close
	}

	win := OrderWins(dir, open, close)
	payout := client.Payout(asset)
	profit := SimulatedProfit(amount, payout, win)

	success := win
	switch {
	case orderErr != nil || order == nil:
		success = false
	case order.Success != nil:
		success = *order.Success
	}

	w.log.Info().
		Str("asset", asset).
		Str("direction", string(dir)).
		Bool("win", win).
		Float64("pnl", profit).
		Msg("simulated order")

	return map[string]any{
		"asset":            asset,
		"amount":           amount,
		"direction":        string(dir),
		"success":          success,
		"simulated_profit": profit,
		"payout":           payout,
		"win":              win,
	}, nil
}

func (w *worker) randomAsset() string {
	names := client.AssetNames()
	return names[w.rnd.IntN(len(names))]
}
