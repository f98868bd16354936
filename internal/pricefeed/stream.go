package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// MintProvider returns the mints the stream should be subscribed to.
type MintProvider func(context.Context) ([]string, error)

type streamSubscribeRequest struct {
	Type  string   `json:"type"`
	Mints []string `json:"mints,omitempty"`
}

type streamUpdate struct {
	Mint      string   `json:"mint"`
	Price     string   `json:"price"`
	Timestamp int64    `json:"ts"`
	Conf      *float64 `json:"conf,omitempty"`
}

type StreamOptions struct {
	URL               string
	MintProvider      MintProvider
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// Stream keeps a websocket subscription to a push price feed and caches the
// latest quote per mint. It is an accelerator for the sampler, never a
// requirement: when the feed is down the sampler falls back to REST polling.
type Stream struct {
	opts StreamOptions

	mu     sync.Mutex
	latest map[string]Quote
}

func NewStream(opts StreamOptions) *Stream {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Stream{opts: opts, latest: map[string]Quote{}}
}

// Latest returns the last streamed quote for mint, if any.
func (s *Stream) Latest(mint string) (Quote, bool) {
	if s == nil {
		return Quote{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.latest[strings.TrimSpace(mint)]
	return q, ok
}

// Run dials and consumes until ctx is cancelled, reconnecting with jittered
// backoff on any failure.
func (s *Stream) Run(ctx context.Context) error {
	if s == nil || strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("stream url is empty")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		if s.opts.Logger != nil {
			s.opts.Logger.Info("price ws connected")
		}

		mints, err := s.currentMints(ctx)
		if err != nil || len(mints) == 0 {
			_ = conn.Close(websocket.StatusInternalError, "no mints to subscribe")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if err := s.subscribe(ctx, conn, mints); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price ws subscribe failed", zap.Error(err))
			}
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *Stream) currentMints(ctx context.Context) ([]string, error) {
	if s.opts.MintProvider == nil {
		return nil, nil
	}
	return s.opts.MintProvider(ctx)
}

func (s *Stream) subscribe(ctx context.Context, conn *websocket.Conn, mints []string) error {
	payload, err := json.Marshal(streamSubscribeRequest{Type: "subscribe", Mints: mints})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) error {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	refresh := time.NewTicker(s.opts.RefreshInterval)
	defer refresh.Stop()

	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-heartbeatErr:
			return err
		case err := <-readErr:
			return err
		case <-refresh.C:
			mints, err := s.currentMints(ctx)
			if err != nil || len(mints) == 0 {
				continue
			}
			if err := s.subscribe(ctx, conn, mints); err != nil {
				return err
			}
		case data := <-msgs:
			s.handleMessage(data)
		}
	}
}

func (s *Stream) handleMessage(data []byte) {
	var upd streamUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	mint := strings.TrimSpace(upd.Mint)
	if mint == "" || upd.Price == "" {
		return
	}
	price, err := decimal.NewFromString(upd.Price)
	if err != nil {
		return
	}
	at := time.Now().UTC()
	if upd.Timestamp > 0 {
		at = time.UnixMilli(upd.Timestamp).UTC()
	}
	s.mu.Lock()
	s.latest[mint] = Quote{Address: mint, Price: price, Confidence: upd.Conf, At: at}
	s.mu.Unlock()
}

func sleepWithJitter(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
