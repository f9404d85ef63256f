// Package client defines the capability set the load tester consumes from
// the remote trading service. Implementations live in sub-packages.
package client

import (
	"context"
	"errors"
	"time"
)

// KeepAliveMessage is the raw frame sent for ping-style operations.
const KeepAliveMessage = `42["ps"]`

var (
	ErrNotConnected  = errors.New("client not connected")
	ErrConnectFailed = errors.New("connection failed")
)

type Direction string

const (
	Call Direction = "call"
	Put  Direction = "put"
)

type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type Candle struct {
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Timestamp time.Time `json:"timestamp"`
}

type Order struct {
	OrderID   string    `json:"order_id"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	Direction Direction `json:"direction"`
	Duration  int       `json:"duration"`
	// Success is set only when the service reports an outcome with the
	// submission acknowledgement.
	Success *bool `json:"success,omitempty"`
}

// Hooks are optional callbacks installed when a client is constructed.
type Hooks struct {
	OnConnected func()
	OnMessage   func(msg []byte)
}

type Options struct {
	ID            string
	SSID          string
	Demo          bool
	Persistent    bool
	AutoReconnect bool
	Hooks         Hooks
}

// Client is one logical session against the service. A Client is owned by a
// single worker; only Disconnect, IsConnected and SetAutoReconnect may be
// called concurrently by a cleanup pass.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	SetAutoReconnect(enabled bool)

	Balance(ctx context.Context) (*Balance, error)
	Candles(ctx context.Context, asset string, timeframe, count int) ([]Candle, error)
	PlaceOrder(ctx context.Context, asset string, amount float64, dir Direction, duration int) (*Order, error)
	SendMessage(ctx context.Context, raw string) error
}

// KeepAlive maintains a long-lived connection used for raw message floods.
type KeepAlive interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, raw string) error
}

type Factory interface {
	NewClient(opts Options) Client
	NewKeepAlive(opts Options) KeepAlive
}
