package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rugs_go/internal/domain"
	"rugs_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	maxRetries       = 10
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// Sink receives every decoded event frame, stamped with the connection epoch
// and a per-connection sequence number.
type Sink interface {
	HandleFrame(epoch, seq uint64, name string, payload []byte)
}

// Client owns the persistent upstream socket: one reader goroutine per
// connection, reconnect loop with exponential backoff, keepalive replies.
type Client struct {
	url       string
	origin    string
	authToken string
	sink      Sink
	metrics   *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	epoch atomic.Uint64
	seq   atomic.Uint64
}

// NewClient creates a feed client delivering decoded frames to the sink.
func NewClient(url, origin, authToken string, sink Sink, metrics *infra.Metrics) *Client {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Client{
		url:       url,
		origin:    origin,
		authToken: authToken,
		sink:      sink,
		metrics:   metrics,
	}
}

// Connect starts the connection loop in the background.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			if !domain.IsRetriable(err) {
				slog.Error("Feed connection rejected, giving up", slog.Any("error", err))
				return
			}
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // Infinite retry loop for monitoring
			}
			delay := infra.CalculateBackoff(retryCount)
			time.Sleep(delay)
		} else {
			retryCount = 0
			c.readLoop(ctx)
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		// A handshake rejected for credentials will never succeed on retry.
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return domain.NewFatalNetworkError("dial", err)
		}
		return domain.NewNetworkError("dial", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// New connection: the sequence restarts under a fresh epoch so the
	// normalizer never mistakes a reconnect for a replay.
	c.epoch.Add(1)
	c.seq.Store(0)
	c.metrics.SetConnected(true)

	slog.Info("Feed connected", slog.String("url", c.url), slog.Uint64("epoch", c.epoch.Load()))
	return nil
}

func (c *Client) threadSafeWrite(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return domain.ErrConnectionFailed
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		// Capture the pointer under the lock: a concurrent Disconnect can
		// nil out c.conn between the check and the read.
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("Feed read failed, reconnecting", slog.Any("error", err))
			c.closeConnection()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg []byte) {
	c.metrics.RecordFrame()

	fr, err := DecodeFrame(msg)
	if err != nil {
		// One bad frame never stops the reader.
		c.metrics.RecordDecodeFailure()
		slog.Warn("Dropping malformed frame", slog.Any("error", err))
		return
	}

	switch fr.Kind {
	case FramePing:
		c.threadSafeWrite(websocket.TextMessage, pongFrame)
	case FrameEvent:
		seq := c.seq.Add(1)
		c.sink.HandleFrame(c.epoch.Load(), seq, fr.Name, fr.Payload)
	}
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.connected {
		c.connected = false
		c.metrics.SetConnected(false)
	}
}

// IsConnected reports whether the socket is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect stops the connection loop and closes the socket.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
}
