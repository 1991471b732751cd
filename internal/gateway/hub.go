package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// outbound is one queued write. The payload is already encoded for the
// connection's codec; op matches it (text for json, binary for msgpack).
type outbound struct {
	op      ws.OpCode
	payload []byte
}

// conn is one attached client. Its writer goroutine is the only writer
// on nc; every other goroutine goes through send.
type conn struct {
	id    string
	nc    net.Conn
	codec Codec
	op    ws.OpCode

	send chan outbound
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}

// hub owns the connection table.
type hub struct {
	log          logx.Logger
	sendBuffer   int
	writeTimeout time.Duration

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

func newHub(log logx.Logger, sendBuffer int, writeTimeout time.Duration) *hub {
	if sendBuffer < 1 {
		sendBuffer = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &hub{
		log:          log,
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
		conns:        map[string]*conn{},
	}
}

// attach registers c and starts its writer. It reports false once the
// hub is closed.
func (h *hub) attach(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()

	go h.writer(c)
	h.log.Debug("client attached",
		logx.String("client", c.id),
		logx.String("codec", c.codec.Name()),
		logx.Int("clients", n))
	return true
}

// drop closes c and forgets it. Safe to call more than once.
func (h *hub) drop(c *conn) {
	c.close()
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

func (h *hub) clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// enqueue encodes f for c and queues it.
func (h *hub) enqueue(c *conn, f Frame) {
	payload, err := c.codec.Encode(f)
	if err != nil {
		h.log.Error("frame encode failed",
			logx.String("codec", c.codec.Name()), logx.Err(err))
		return
	}
	h.enqueueRaw(c, outbound{op: c.op, payload: payload})
}

// enqueueRaw queues an encoded item without blocking. A full queue
// drops the client: one stuck reader must not hold up the broadcast.
func (h *hub) enqueueRaw(c *conn, out outbound) {
	select {
	case c.send <- out:
	case <-c.done:
	default:
		h.log.Warn("client send queue full, dropping",
			logx.String("client", c.id))
		h.drop(c)
	}
}

// broadcast fans one frame out to every client, encoding at most once
// per codec.
func (h *hub) broadcast(f Frame) {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	encoded := map[string]outbound{}
	for _, c := range conns {
		out, ok := encoded[c.codec.Name()]
		if !ok {
			payload, err := c.codec.Encode(f)
			if err != nil {
				h.log.Error("frame encode failed",
					logx.String("codec", c.codec.Name()), logx.Err(err))
				continue
			}
			out = outbound{op: c.op, payload: payload}
			encoded[c.codec.Name()] = out
		}
		h.enqueueRaw(c, out)
	}
}

// writer drains the send queue. One write deadline per send.
func (h *hub) writer(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			_ = c.nc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := wsutil.WriteServerMessage(c.nc, out.op, out.payload); err != nil {
				h.log.Debug("client write failed",
					logx.String("client", c.id), logx.Err(err))
				h.drop(c)
				return
			}
		}
	}
}

// close drops every client. Later attaches are refused.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := h.conns
	h.conns = map[string]*conn{}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if len(conns) > 0 {
		h.log.Info("gateway closed", logx.Int("clients", len(conns)))
	}
}
