package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"stressq/internal/client"
	"stressq/internal/client/sim"
	"stressq/internal/client/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ServerConfig struct {
	Port int
	// Balance reported to every authenticated session.
	Balance float64
}

// behaviour returns the artificial latency and, optionally, a failure for a
// single request.
type behaviour func() (time.Duration, error)

var (
	errInternal    = errors.New("internal server error")
	errRateLimited = errors.New("too many requests")
)

var profiles = map[string]behaviour{
	// 10-50ms
	"fast": func() (time.Duration, error) {
		return time.Duration(rand.Intn(40)+10) * time.Millisecond, nil
	},
	// 100-300ms
	"medium": func() (time.Duration, error) {
		return time.Duration(rand.Intn(200)+100) * time.Millisecond, nil
	},
	// 1s-2s, good for exercising operation timeouts
	"slow": func() (time.Duration, error) {
		return time.Duration(rand.Intn(1000)+1000) * time.Millisecond, nil
	},
	// Usually fast, 5% of requests take 2s
	"spike": func() (time.Duration, error) {
		if rand.Float32() < 0.05 {
			return 2 * time.Second, nil
		}
		return 20 * time.Millisecond, nil
	},
	// 20% internal errors, 20% rate limited
	"error": func() (time.Duration, error) {
		rnd := rand.Float32()
		switch {
		case rnd < 0.2:
			return 15 * time.Millisecond, errInternal
		case rnd < 0.4:
			return 5 * time.Millisecond, errRateLimited
		}
		return 15 * time.Millisecond, nil
	},
	"instant": func() (time.Duration, error) {
		return 0, nil
	},
}

// Profiles lists the available endpoint names.
func Profiles() []string {
	return []string{"fast", "medium", "slow", "spike", "error", "instant"}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves one websocket endpoint per profile, e.g. /ws/fast.
func Handler(cfg ServerConfig) http.Handler {
	if cfg.Balance == 0 {
		cfg.Balance = 10000
	}
	mux := http.NewServeMux()
	for name, b := range profiles {
		mux.HandleFunc("/ws/"+name, func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				log.Debug().Err(err).Msg("websocket upgrade failed")
				return
			}
			s := &session{conn: conn, behave: b, balance: cfg.Balance}
			s.serve()
		})
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, cfg ServerConfig) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: Handler(cfg),
	}

	fmt.Printf("👻 Dummy trading service running on ws://localhost%s/ws/<profile>\n", addr)
	fmt.Printf("   Profiles: %s\n", strings.Join(Profiles(), ", "))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type session struct {
	conn    *websocket.Conn
	behave  behaviour
	balance float64

	writeMu sync.Mutex
	authed  bool
	wg      sync.WaitGroup
}

func (s *session) serve() {
	defer func() {
		s.wg.Wait()
		s.conn.Close()
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req ws.Envelope
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			// Raw keep-alive frames need no reply.
			continue
		}
		if req.Op == ws.OpAuth {
			s.reply(s.auth(req))
			continue
		}
		if !s.authed {
			s.reply(failed(req, "not authenticated"))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reply(s.handle(req))
		}()
	}
}

func (s *session) auth(req ws.Envelope) ws.Envelope {
	if req.SSID == "" {
		return failed(req, "invalid session")
	}
	s.authed = true
	return ws.Envelope{ID: req.ID, OK: true}
}

func (s *session) handle(req ws.Envelope) ws.Envelope {
	delay, err := s.behave()
	time.Sleep(delay)
	if err != nil {
		return failed(req, err.Error())
	}

	switch req.Op {
	case ws.OpBalance:
		return ws.Envelope{ID: req.ID, OK: true, Balance: &client.Balance{Balance: s.balance, Currency: "USD"}}
	case ws.OpCandles:
		return ws.Envelope{ID: req.ID, OK: true, Candles: sim.GenerateCandles(req.Timeframe, req.Count, 0)}
	case ws.OpOrder:
		if !client.KnownAsset(req.Asset) {
			return failed(req, "unknown asset "+req.Asset)
		}
		if req.Amount < 1 {
			return failed(req, "amount below minimum")
		}
		return ws.Envelope{ID: req.ID, OK: true, Order: &client.Order{
			OrderID:   uuid.NewString(),
			Asset:     req.Asset,
			Amount:    req.Amount,
			Direction: req.Direction,
			Duration:  req.Duration,
		}}
	}
	return failed(req, "unknown op "+req.Op)
}

func (s *session) reply(resp ws.Envelope) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteMessage(websocket.TextMessage, data)
}

func failed(req ws.Envelope, msg string) ws.Envelope {
	return ws.Envelope{ID: req.ID, Error: msg}
}
