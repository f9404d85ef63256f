// Package sim is an in-process stand-in for the trading service with a
// configurable latency and failure profile.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"stressq/internal/client"

	"github.com/google/uuid"
)

type Call string

const (
	CallConnect    Call = "connect"
	CallDisconnect Call = "disconnect"
	CallBalance    Call = "balance"
	CallCandles    Call = "candles"
	CallOrder      Call = "order"
	CallSend       Call = "send"
)

var ErrInjected = errors.New("injected failure")

type Profile struct {
	// Latency is applied to every call; Jitter adds up to that much on top.
	Latency        time.Duration
	Jitter         time.Duration
	ConnectLatency time.Duration

	// Errors forces a call to fail with the given error.
	Errors map[Call]error
	// ErrorRate is the probability (0-1) that a data call fails.
	ErrorRate float64

	// CandleDrift fixes close-open for generated bars; zero draws it at random.
	CandleDrift float64

	StartingBalance float64
	Currency        string
}

func DefaultProfile() Profile {
	return Profile{
		Latency:         20 * time.Millisecond,
		Jitter:          30 * time.Millisecond,
		ConnectLatency:  100 * time.Millisecond,
		StartingBalance: 10000,
		Currency:        "USD",
	}
}

// Factory creates simulated clients and tracks their connection state.
type Factory struct {
	Profile Profile

	created     atomic.Int64
	connected   atomic.Int64
	disconnects atomic.Int64
}

func NewFactory(p Profile) *Factory {
	return &Factory{Profile: p}
}

func (f *Factory) NewClient(opts client.Options) client.Client {
	f.created.Add(1)
	c := &Client{f: f, opts: opts}
	c.autoReconnect.Store(opts.AutoReconnect)
	return c
}

func (f *Factory) NewKeepAlive(opts client.Options) client.KeepAlive {
	f.created.Add(1)
	return &KeepAlive{Client{f: f, opts: opts}}
}

// Created is the number of handles handed out.
func (f *Factory) Created() int { return int(f.created.Load()) }

// Connected is the number of handles currently connected.
func (f *Factory) Connected() int { return int(f.connected.Load()) }

// Disconnects counts disconnect attempts, successful or not.
func (f *Factory) Disconnects() int { return int(f.disconnects.Load()) }

func (f *Factory) wait(ctx context.Context, base time.Duration) error {
	d := base
	if f.Profile.Jitter > 0 {
		d += rand.N(f.Profile.Jitter)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Factory) fail(call Call) error {
	if err := f.Profile.Errors[call]; err != nil {
		return err
	}
	if call != CallConnect && call != CallDisconnect && f.Profile.ErrorRate > 0 && rand.Float64() < f.Profile.ErrorRate {
		return fmt.Errorf("%s: %w", call, ErrInjected)
	}
	return nil
}

type Client struct {
	f             *Factory
	opts          client.Options
	connected     atomic.Bool
	autoReconnect atomic.Bool
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.f.wait(ctx, c.f.Profile.ConnectLatency); err != nil {
		return err
	}
	if err := c.f.fail(CallConnect); err != nil {
		return err
	}
	if c.connected.CompareAndSwap(false, true) {
		c.f.connected.Add(1)
	}
	if h := c.opts.Hooks.OnConnected; h != nil {
		h()
	}
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.f.disconnects.Add(1)
	if c.connected.CompareAndSwap(true, false) {
		c.f.connected.Add(-1)
	}
	return c.f.fail(CallDisconnect)
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) SetAutoReconnect(enabled bool) { c.autoReconnect.Store(enabled) }

// AutoReconnect reports the current reconnect setting.
func (c *Client) AutoReconnect() bool { return c.autoReconnect.Load() }

func (c *Client) call(ctx context.Context, call Call) error {
	if !c.connected.Load() {
		return client.ErrNotConnected
	}
	if err := c.f.wait(ctx, c.f.Profile.Latency); err != nil {
		return err
	}
	return c.f.fail(call)
}

func (c *Client) Balance(ctx context.Context) (*client.Balance, error) {
	if err := c.call(ctx, CallBalance); err != nil {
		return nil, err
	}
	return &client.Balance{Balance: c.f.Profile.StartingBalance, Currency: c.f.Profile.Currency}, nil
}

func (c *Client) Candles(ctx context.Context, asset string, timeframe, count int) ([]client.Candle, error) {
	if err := c.call(ctx, CallCandles); err != nil {
		return nil, err
	}
	return GenerateCandles(timeframe, count, c.f.Profile.CandleDrift), nil
}

func (c *Client) PlaceOrder(ctx context.Context, asset string, amount float64, dir client.Direction, duration int) (*client.Order, error) {
	if err := c.call(ctx, CallOrder); err != nil {
		return nil, err
	}
	if !client.KnownAsset(asset) {
		return nil, fmt.Errorf("unknown asset %q", asset)
	}
	return &client.Order{
		OrderID:   uuid.NewString(),
		Asset:     asset,
		Amount:    amount,
		Direction: dir,
		Duration:  duration,
	}, nil
}

func (c *Client) SendMessage(ctx context.Context, raw string) error {
	if err := c.call(ctx, CallSend); err != nil {
		return err
	}
	if h := c.opts.Hooks.OnMessage; h != nil && raw == client.KeepAliveMessage {
		h([]byte(`42["pong"]`))
	}
	return nil
}

// KeepAlive is the persistent-connection variant of Client.
type KeepAlive struct {
	Client
}

func (k *KeepAlive) Start(ctx context.Context) error { return k.Connect(ctx) }

func (k *KeepAlive) Stop(ctx context.Context) error { return k.Disconnect(ctx) }

// GenerateCandles returns count bars ending now, each timeframe seconds
// wide. A non-zero drift fixes close-open for every bar.
func GenerateCandles(timeframe, count int, drift float64) []client.Candle {
	if count <= 0 {
		return nil
	}
	if timeframe <= 0 {
		timeframe = 60
	}
	bars := make([]client.Candle, count)
	price := 1.1
	end := time.Now().Truncate(time.Duration(timeframe) * time.Second)
	for i := range bars {
		d := drift
		if d == 0 {
			d = (rand.Float64() - 0.5) * 0.002
		}
		open, close := price, price+d
		high, low := max(open, close), min(open, close)
		bars[i] = client.Candle{
			Open:      open,
			Close:     close,
			High:      high + rand.Float64()*0.0005,
			Low:       low - rand.Float64()*0.0005,
			Timestamp: end.Add(-time.Duration(count-1-i) * time.Duration(timeframe) * time.Second),
		}
		price = close
	}
	return bars
}
