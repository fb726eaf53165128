package peer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
)

// WSPath is the route peers connect to.
const WSPath = "/peer/v1/ws"

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// WSOptions configures a WSTransport.
type WSOptions struct {
	// Responder answers requests arriving on any connection. Nil answers
	// every request with not-found.
	Responder        *Responder
	Logger           *logrus.Logger
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// WSTransport is a Transport over websocket connections. Each binary
// message carries exactly one frame. Connections are symmetric: either
// side may send requests once connected.
type WSTransport struct {
	responder    *Responder
	log          *logrus.Logger
	dialer       websocket.Dialer
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	conns  map[ID]*wsConn
	closed bool
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a transport with no connections.
func NewWSTransport(opts WSOptions) *WSTransport {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		responder:    opts.Responder,
		log:          opts.Logger,
		dialer:       websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		upgrader:     websocket.Upgrader{HandshakeTimeout: opts.HandshakeTimeout},
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[ID]*wsConn),
	}
}

// Handler returns an http.Handler accepting peer connections at WSPath.
func (t *WSTransport) Handler() http.Handler {
	router := mux.NewRouter()
	t.Register(router)
	return router
}

// Register adds the peer route to an existing router.
func (t *WSTransport) Register(router *mux.Router) {
	router.HandleFunc(WSPath, t.handleUpgrade).Methods(http.MethodGet)
}

func (t *WSTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		t.log.WithError(err).Debug("peer: upgrade failed")
		return
	}
	id := ID("in:" + r.RemoteAddr)
	if err := t.add(id, ws); err != nil {
		_ = ws.Close()
	}
}

// Dial connects to a peer URL (ws:// or wss://). The URL is the peer's ID;
// dialing a connected peer is a no-op.
func (t *WSTransport) Dial(ctx context.Context, url string) (ID, error) {
	id := ID(url)
	if t.connected(id) {
		return id, nil
	}
	ws, resp, err := t.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("peer: dial %s: %w", url, err)
	}
	if err := t.add(id, ws); err != nil {
		_ = ws.Close()
		return "", err
	}
	t.log.WithFields(logrus.Fields{"peer": url}).Info("peer: connected")
	return id, nil
}

// Connect dials a host:port endpoint at WSPath. Addresses that already
// carry a ws:// or wss:// scheme are dialed as given.
func (t *WSTransport) Connect(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		url = "ws://" + addr + WSPath
	}
	_, err := t.Dial(ctx, url)
	return err
}

// ConnectedPeers returns the connected peer IDs in sorted order.
func (t *WSTransport) ConnectedPeers() []ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]ID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RequestBlock sends a request to id and waits for the matching response.
func (t *WSTransport) RequestBlock(ctx context.Context, id ID, hash block.Hash) ([]byte, error) {
	t.mu.RLock()
	c, ok := t.conns[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return c.request(ctx, hash)
}

// Disconnect closes the connection to id, if any.
func (t *WSTransport) Disconnect(id ID) {
	t.mu.Lock()
	c, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()
	if ok {
		c.close()
	}
}

// Close drops every connection and waits for in-flight handlers.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[ID]*wsConn)
	t.mu.Unlock()

	t.cancel()
	for _, c := range conns {
		c.close()
	}
	t.wg.Wait()
	return nil
}

func (t *WSTransport) connected(id ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[id]
	return ok
}

func (t *WSTransport) add(id ID, ws *websocket.Conn) error {
	ws.SetReadLimit(MaxFrameSize + 4)
	c := &wsConn{
		id:           id,
		ws:           ws,
		writeTimeout: t.writeTimeout,
		pending:      make(map[uint32]chan Response),
		done:         make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if old, ok := t.conns[id]; ok {
		defer old.close()
	}
	t.conns[id] = c
	t.wg.Add(1)
	t.mu.Unlock()

	go t.readLoop(c)
	return nil
}

func (t *WSTransport) remove(c *wsConn) {
	t.mu.Lock()
	if t.conns[c.id] == c {
		delete(t.conns, c.id)
	}
	t.mu.Unlock()
	c.close()
}

func (t *WSTransport) readLoop(c *wsConn) {
	defer t.wg.Done()
	defer t.remove(c)

	for {
		msgType, r, err := c.ws.NextReader()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.WithFields(logrus.Fields{"peer": string(c.id)}).WithError(err).Debug("peer: connection ended")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			t.violation(c, fmt.Errorf("%w: non-binary message", ErrMalformedFrame))
			continue
		}
		body, err := ReadFrame(r)
		if err != nil {
			t.violation(c, err)
			continue
		}
		kind, err := Kind(body)
		if err != nil {
			t.violation(c, err)
			continue
		}

		switch kind {
		case KindRequest:
			req, err := DecodeRequest(body)
			if err != nil {
				t.violation(c, err)
				continue
			}
			t.wg.Add(1)
			go t.answer(c, req)
		default:
			resp, err := DecodeResponse(body)
			if err != nil {
				t.violation(c, err)
				continue
			}
			c.deliver(resp)
		}
	}
}

func (t *WSTransport) answer(c *wsConn, req Request) {
	defer t.wg.Done()
	resp := Response{ID: req.ID}
	if t.responder != nil {
		resp = t.responder.Answer(t.ctx, req)
	}
	if err := c.write(EncodeResponse(resp)); err != nil {
		t.log.WithFields(logrus.Fields{"peer": string(c.id)}).WithError(err).Debug("peer: write response failed")
	}
}

func (t *WSTransport) violation(c *wsConn, err error) {
	t.log.WithFields(logrus.Fields{"peer": string(c.id)}).WithError(err).Warn("peer: protocol violation")
}

// wsConn is one multiplexed connection.
type wsConn struct {
	id           ID
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Uint32

	pendMu  sync.Mutex
	pending map[uint32]chan Response

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) write(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	w, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := WriteFrame(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *wsConn) request(ctx context.Context, hash block.Hash) ([]byte, error) {
	id := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.write(EncodeRequest(Request{ID: id, Hash: hash})); err != nil {
		return nil, fmt.Errorf("peer: send request: %w", err)
	}

	select {
	case resp := <-ch:
		if !resp.Found {
			return nil, ErrNotFound
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// deliver hands resp to its waiting request. Responses nobody waits for
// (timed out, or never asked) are dropped.
func (c *wsConn) deliver(resp Response) {
	c.pendMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendMu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with NextWriter.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}
