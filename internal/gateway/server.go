package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/OCR4all/ocr4all-app-msa/internal/eventbus"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Config holds the gateway settings. They are fixed for the lifetime of
// the service; the reload differ warns about changes instead of applying
// them.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	BusBuffer    int
}

// Service is the WebSocket gateway: an upgrade endpoint plus a pump
// copying bus notifications to every attached client.
type Service struct {
	log       logx.Logger
	bus       eventbus.Bus
	hub       *hub
	busBuffer int
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		log:       log,
		bus:       bus,
		hub:       newHub(log, cfg.SendBuffer, cfg.WriteTimeout),
		busBuffer: cfg.BusBuffer,
	}
}

// Clients reports how many connections are attached.
func (s *Service) Clients() int { return s.hub.clients() }

// ServeHTTP upgrades the request and attaches the connection. The codec
// query parameter picks the wire codec; unknown names are refused with
// 400 before the upgrade.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("codec")
	codec, ok := ByName(name)
	if !ok {
		http.Error(w, "unknown codec: "+name, http.StatusBadRequest)
		return
	}

	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	// The HTTP server may have armed read/write deadlines before the
	// hijack; they would fire mid-session otherwise.
	_ = nc.SetDeadline(time.Time{})

	op := ws.OpText
	if codec.Name() == CodecMsgpack {
		op = ws.OpBinary
	}
	c := &conn{
		id:    uuid.NewString(),
		nc:    nc,
		codec: codec,
		op:    op,
		send:  make(chan outbound, s.hub.sendBuffer),
		done:  make(chan struct{}),
	}
	if !s.hub.attach(c) {
		_ = nc.Close()
		return
	}

	s.hub.enqueue(c, helloFrame(codec.Name(), c.id))
	go s.reader(c)
}

// reader drains client frames. An application-level ping frame is
// answered with a pong through the writer queue; protocol pings are
// answered the same way; everything else is ignored.
func (s *Service) reader(c *conn) {
	defer func() {
		s.log.Debug("client disconnected", logx.String("client", c.id))
		s.hub.drop(c)
	}()

	control := func(hdr ws.Header, r io.Reader) error {
		return s.handleControl(c, hdr, r)
	}
	rd := wsutil.Reader{
		Source:         c.nc,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return
			}
			continue
		}
		data, err := io.ReadAll(&rd)
		if err != nil {
			return
		}

		f, err := c.codec.Decode(data)
		if err != nil {
			s.log.Debug("undecodable client frame",
				logx.String("client", c.id), logx.Err(err))
			continue
		}
		if f.Type == FramePing {
			s.hub.enqueue(c, pongFrame())
		}
	}
}

// handleControl consumes a control frame payload and queues the reply,
// keeping the writer goroutine the only writer on the connection.
func (s *Service) handleControl(c *conn, hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		s.hub.enqueueRaw(c, outbound{op: ws.OpPong, payload: payload})
	case ws.OpClose:
		return io.EOF
	}
	return nil
}

// Run pumps bus notifications to the attached clients until ctx is
// canceled or the bus closes.
func (s *Service) Run(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe("gateway.hub", s.busBuffer)
	defer unsub()
	s.log.Debug("gateway pump started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			s.hub.broadcast(eventFrame(n))
		}
	}
}

// Close drops every attached client.
func (s *Service) Close() { s.hub.close() }
