package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stressq/internal/client"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errConnClosed = errors.New("connection closed")

// Factory builds websocket clients for a single service URL.
type Factory struct {
	URL string
	// PingInterval is the keep-alive cadence of persistent connections.
	PingInterval time.Duration
	// ReconnectDelay and MaxReconnects drive auto-reconnect.
	ReconnectDelay time.Duration
	MaxReconnects  int
	Dialer         *websocket.Dialer
	Log            zerolog.Logger
}

func NewFactory(url string, log zerolog.Logger) *Factory {
	return &Factory{
		URL:            url,
		PingInterval:   20 * time.Second,
		ReconnectDelay: 5 * time.Second,
		MaxReconnects:  5,
		Dialer:         websocket.DefaultDialer,
		Log:            log,
	}
}

func (f *Factory) NewClient(opts client.Options) client.Client {
	return f.newClient(opts)
}

func (f *Factory) NewKeepAlive(opts client.Options) client.KeepAlive {
	opts.Persistent = true
	return &KeepAlive{Client: f.newClient(opts), interval: f.PingInterval}
}

func (f *Factory) newClient(opts client.Options) *Client {
	c := &Client{
		f:    f,
		opts: opts,
		log:  f.Log.With().Str("client", opts.ID).Logger(),
	}
	c.autoReconnect.Store(opts.AutoReconnect)
	return c
}

type Client struct {
	f    *Factory
	opts client.Options
	log  zerolog.Logger

	mu      sync.Mutex // guards conn and pending
	conn    *websocket.Conn
	pending map[string]chan Envelope

	writeMu sync.Mutex

	connected     atomic.Bool
	autoReconnect atomic.Bool
	closing       atomic.Bool
}

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.f.Dialer.DialContext(ctx, c.f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.f.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan Envelope)
	c.mu.Unlock()
	c.closing.Store(false)

	go c.readLoop(conn)

	if _, err := c.call(ctx, Envelope{Op: OpAuth, SSID: c.opts.SSID, Demo: c.opts.Demo}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", client.ErrConnectFailed, err)
	}
	c.connected.Store(true)
	if h := c.opts.Hooks.OnConnected; h != nil {
		h()
	}
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.closing.Store(true)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
	c.connected.Store(false)
	return err
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) SetAutoReconnect(enabled bool) { c.autoReconnect.Store(enabled) }

func (c *Client) Balance(ctx context.Context) (*client.Balance, error) {
	resp, err := c.call(ctx, Envelope{Op: OpBalance})
	if err != nil {
		return nil, err
	}
	return resp.Balance, nil
}

func (c *Client) Candles(ctx context.Context, asset string, timeframe, count int) ([]client.Candle, error) {
	resp, err := c.call(ctx, Envelope{Op: OpCandles, Asset: asset, Timeframe: timeframe, Count: count})
	if err != nil {
		return nil, err
	}
	return resp.Candles, nil
}

func (c *Client) PlaceOrder(ctx context.Context, asset string, amount float64, dir client.Direction, duration int) (*client.Order, error) {
	resp, err := c.call(ctx, Envelope{
		Op:        OpOrder,
		Asset:     asset,
		Amount:    amount,
		Direction: dir,
		Duration:  duration,
	})
	if err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// SendMessage writes a raw text frame without waiting for a reply.
func (c *Client) SendMessage(ctx context.Context, raw string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return client.ErrNotConnected
	}
	return c.write(ctx, conn, []byte(raw))
}

func (c *Client) call(ctx context.Context, req Envelope) (Envelope, error) {
	req.ID = uuid.NewString()
	ch := make(chan Envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return Envelope{}, client.ErrNotConnected
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, err
	}
	if err := c.write(ctx, conn, data); err != nil {
		return Envelope{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Envelope{}, errConnClosed
		}
		if !resp.OK {
			return resp, fmt.Errorf("%s: %s", req.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closed(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closing.Load() {
				c.log.Debug().Err(err).Msg("connection dropped")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.ID == "" {
			if h := c.opts.Hooks.OnMessage; h != nil {
				h(data)
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[env.ID]
		c.mu.Unlock()
		if ch != nil {
			// Duplicate replies are dropped.
			select {
			case ch <- env:
			default:
			}
		}
	}
}

func (c *Client) closed(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	wasConnected := c.connected.Swap(false)
	if wasConnected && !c.closing.Load() && c.autoReconnect.Load() {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.f.MaxReconnects; attempt++ {
		time.Sleep(c.f.ReconnectDelay)
		if c.closing.Load() || !c.autoReconnect.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.log.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}
}

// KeepAlive holds a persistent connection open with periodic keep-alive
// frames until stopped.
type KeepAlive struct {
	*Client
	interval time.Duration

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func (k *KeepAlive) Start(ctx context.Context) error {
	k.SetAutoReconnect(true)
	if err := k.Connect(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.pingLoop(loopCtx)
	return nil
}

func (k *KeepAlive) Stop(ctx context.Context) error {
	k.stopOnce.Do(func() {
		if k.cancel != nil {
			k.cancel()
			<-k.done
		}
	})
	k.SetAutoReconnect(false)
	return k.Disconnect(ctx)
}

func (k *KeepAlive) pingLoop(ctx context.Context) {
	defer close(k.done)
	if k.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := k.SendMessage(sendCtx, client.KeepAliveMessage); err != nil {
				k.log.Debug().Err(err).Msg("keep-alive send failed")
			}
			cancel()
		}
	}
}
