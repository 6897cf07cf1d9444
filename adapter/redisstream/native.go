package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xmux"
)

// Native speaks to a peer process through Redis:
//
//   - Create increments the clients counter and returns the new value.
//   - Send appends {client_id, frame} to the requests stream.
//   - Receive reads the updates stream with XREAD BLOCK, resuming after the
//     last entry seen.
//   - Execute appends {reply_to, frame} to the execute stream and waits on the
//     reply list with BLPOP.
type Native struct {
	cfg    Config
	client *redis.Client

	// only the listener goroutine calls Receive
	lastID  string
	pending *queue.Queue

	closeOnce sync.Once
	closed    atomic.Bool

	metrics nativeMetrics
}

type nativeMetrics struct {
	sent          atomic.Uint64
	received      atomic.Uint64
	executed      atomic.Uint64
	sendErrors    atomic.Uint64
	receiveErrors atomic.Uint64
}

var _ xmux.Native = (*Native)(nil)

// NewNative connects to Redis and positions the reader at the current end of
// the updates stream (or its start when FromStart is set).
func NewNative(cfg Config) (*Native, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	n := &Native{
		cfg:     cfg,
		client:  client,
		lastID:  "0-0",
		pending: queue.New(),
	}
	if !cfg.FromStart {
		id, err := n.tail(context.Background())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		n.lastID = id
	}
	return n, nil
}

// tail returns the id of the newest updates entry, or "0-0" for an empty stream.
func (n *Native) tail(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msgs, err := n.client.XRevRangeN(ctx, n.cfg.updatesKey(), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redisstream: read updates tail: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// Create allocates the next client id from the shared counter.
func (n *Native) Create() (xmux.SessionID, error) {
	if n.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.client.Incr(ctx, n.cfg.clientsKey()).Result()
}

// Send appends the frame to the requests stream.
func (n *Native) Send(session xmux.SessionID, frame []byte) error {
	if n.closed.Load() {
		return ErrClosed
	}
	args := &redis.XAddArgs{
		Stream: n.cfg.requestsKey(),
		ID:     "*",
		Values: map[string]any{fieldClientID: session, fieldFrame: frame},
	}
	if n.cfg.MaxLenApprox > 0 {
		args.MaxLen = n.cfg.MaxLenApprox
		args.Approx = true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		n.metrics.sendErrors.Add(1)
		return err
	}
	n.metrics.sent.Add(1)
	return nil
}

// Receive returns the next update frame, blocking up to timeout. A nil frame
// means nothing arrived in time.
func (n *Native) Receive(timeout time.Duration) ([]byte, error) {
	if n.pending.Length() > 0 {
		n.metrics.received.Add(1)
		return n.pending.Remove().([]byte), nil
	}
	if n.closed.Load() {
		return nil, ErrClosed
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}

	res, err := n.client.XRead(context.Background(), &redis.XReadArgs{
		Streams: []string{n.cfg.updatesKey(), n.lastID},
		Count:   int64(n.cfg.BatchSize),
		Block:   timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if n.closed.Load() {
			return nil, ErrClosed
		}
		n.metrics.receiveErrors.Add(1)
		return nil, err
	}

	for _, stream := range res {
		for _, m := range stream.Messages {
			n.lastID = m.ID
			frame, ok := frameOf(m.Values)
			if !ok {
				n.metrics.receiveErrors.Add(1)
				continue
			}
			n.pending.Add(frame)
		}
	}
	if n.pending.Length() == 0 {
		return nil, nil
	}
	n.metrics.received.Add(1)
	return n.pending.Remove().([]byte), nil
}

// Execute performs a synchronous request through a one-shot reply list.
func (n *Native) Execute(frame []byte) ([]byte, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	replyKey := n.cfg.replyKey(uuid.NewString())
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ExecuteTimeout+2*time.Second)
	defer cancel()

	err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.cfg.executeKey(),
		ID:     "*",
		Values: map[string]any{fieldReplyTo: replyKey, fieldFrame: frame},
	}).Err()
	if err != nil {
		return nil, err
	}
	res, err := n.client.BLPop(ctx, n.cfg.ExecuteTimeout, replyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &xmux.TimeoutError{Op: "redis execute", After: n.cfg.ExecuteTimeout}
		}
		return nil, err
	}
	n.metrics.executed.Add(1)
	// BLPOP returns [key, value]
	return []byte(res[1]), nil
}

// Close releases the Redis connection pool.
func (n *Native) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		err = n.client.Close()
	})
	return err
}

// Stats is the native's telemetry.
type Stats struct {
	Sent          uint64
	Received      uint64
	Executed      uint64
	SendErrors    uint64
	ReceiveErrors uint64
}

func (n *Native) Stats() Stats {
	return Stats{
		Sent:          n.metrics.sent.Load(),
		Received:      n.metrics.received.Load(),
		Executed:      n.metrics.executed.Load(),
		SendErrors:    n.metrics.sendErrors.Load(),
		ReceiveErrors: n.metrics.receiveErrors.Load(),
	}
}

func frameOf(values map[string]any) ([]byte, bool) {
	switch v := values[fieldFrame].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
