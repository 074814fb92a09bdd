// internal/gateway/gateway.go
package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pi-receiver/internal/metrics"
	"pi-receiver/internal/model"
	"pi-receiver/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownConn 은 이미 끊겼거나 존재하지 않는 연결.
	ErrUnknownConn = errors.New("gateway: unknown connection")

	// ErrQueueFull 은 송신 큐가 가득 차서 연결을 끊었을 때.
	ErrQueueFull = errors.New("gateway: send queue full")

	// ErrNotObserver 는 producer 연결을 broadcast 대상에 넣으려 할 때.
	ErrNotObserver = errors.New("gateway: connection is not an observer")
)

// Handler 는 세션 이벤트를 받는 쪽 (fanout.Hub).
type Handler interface {
	OnIngestionEvent(producerID string, raw model.RawEvent)
	OnObserverConnected(connID string)
	OnObserverDisconnected(connID string)
}

const (
	defaultSendBuffer      = 256
	defaultMaxMessageBytes = 32 << 20
	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
)

// Options 는 Gateway 설정. 0 값은 기본값으로 채운다.
type Options struct {
	SendBuffer      int   // 연결당 송신 큐 길이
	MaxMessageBytes int64 // 수신 프레임 최대 크기 (이미지가 inline 으로 들어온다)

	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration // 0 이면 PongWait 의 90%

	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
}

// Gateway
// ------------------------------------------------------------
// 웹소켓 연결을 받아 producer / observer 로 태깅하고,
// Hub 에 Send / Broadcast / Subscribe 를 제공한다.
//
// 연결마다:
//   - send 큐 (buffered chan) 와 writePump goroutine 1개
//   - readPump goroutine 1개 (producer 이벤트는 여기서 순서대로 처리)
//
// 송신은 큐에 넣기만 하고 block 하지 않는다.
// 큐가 가득 찬 연결은 즉시 끊는다. (느린 observer 가 수집을 막지 못하게)
//
// 연결 제거와 OnObserverDisconnected 호출은 readPump 종료 시 한 번만 일어난다.
// ------------------------------------------------------------
type Gateway struct {
	opt      Options
	upgrader websocket.Upgrader

	handler Handler

	mu     sync.RWMutex
	conns  map[string]*conn
	closed bool
}

type conn struct {
	id   string
	role model.Role
	ip   string
	ws   *websocket.Conn

	send chan []byte
	done chan struct{} // close 되면 writePump 가 close frame 을 보내고 종료

	subscribed bool // Gateway.mu 로 보호
	closeOnce  sync.Once
}

// New 는 Handler 없이 Gateway 를 만든다.
// Hub 와 서로를 참조하므로 연결을 받기 전에 SetHandler 를 호출해야 한다.
func New(opt Options) *Gateway {
	opt.defaults()
	return &Gateway{
		opt: opt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 대시보드는 다른 origin 에서 붙는다.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

func (g *Gateway) SetHandler(h Handler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// ServeHTTP 는 GET /socket?role=producer|observer 를 upgrade 한다.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	handler, closed := g.handler, g.closed
	g.mu.RUnlock()
	if closed || handler == nil {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	role := model.ParseRole(r.URL.Query().Get("role"))

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 가 이미 에러 응답을 썼다.
		log.Warn().Err(err).Str("ip", clientIP(r)).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		role: role,
		ip:   clientIP(r),
		ws:   ws,
		send: make(chan []byte, g.opt.SendBuffer),
		done: make(chan struct{}),
	}

	if !g.register(c) {
		_ = ws.Close()
		return
	}

	log.Info().
		Str("conn_id", c.id).
		Str("role", string(c.role)).
		Str("ip", c.ip).
		Msg("session connected")

	go g.writePump(c)

	if c.role == model.RoleObserver {
		handler.OnObserverConnected(c.id)
	}

	go g.readPump(c, handler)
}

func (g *Gateway) register(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	atomic.AddInt64(g.roleGauge(c.role), 1)
	return true
}

// unregister 는 readPump 종료 시에만 호출된다.
func (g *Gateway) unregister(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.conns[c.id]; !ok || cur != c {
		return false
	}
	delete(g.conns, c.id)
	atomic.AddInt64(g.roleGauge(c.role), -1)
	return true
}

func (g *Gateway) roleGauge(role model.Role) *int64 {
	if role == model.RoleProducer {
		return &g.opt.Metrics.ProducersCurrent
	}
	return &g.opt.Metrics.ObserversCurrent
}

// Send 는 connID 의 큐에 프레임을 넣는다.
func (g *Gateway) Send(connID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}

	if err := g.enqueue(c, frame); err != nil {
		return fmt.Errorf("send %s to %s: %w", event, connID, err)
	}
	return nil
}

// Broadcast 는 구독 중인 observer 모두에게 같은 프레임을 넣는다.
// 인코딩은 한 번만 한다.
func (g *Gateway) Broadcast(event string, payload any) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("broadcast encode failed")
		return 0
	}

	g.mu.RLock()
	targets := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		if c.subscribed {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if g.enqueue(c, frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Subscribe 는 observer 를 broadcast 대상에 넣는다.
func (g *Gateway) Subscribe(connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}
	if c.role != model.RoleObserver {
		return fmt.Errorf("%w: %s", ErrNotObserver, connID)
	}
	c.subscribed = true
	return nil
}

// enqueue 는 block 하지 않는다. 큐가 가득 차면 연결을 끊는다.
func (g *Gateway) enqueue(c *conn, frame []byte) error {
	select {
	case <-c.done:
		return ErrUnknownConn
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		atomic.AddInt64(&g.opt.Metrics.ObserversDroppedTotal, 1)
		log.Warn().
			Str("conn_id", c.id).
			Str("role", string(c.role)).
			Int("queue", cap(c.send)).
			Msg("send queue full, closing connection")
		c.shutdown()
		return ErrQueueFull
	}
}

// Counts 는 현재 연결 수를 role 별로 돌려준다.
func (g *Gateway) Counts() (producers, observers int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.conns {
		if c.role == model.RoleProducer {
			producers++
		} else {
			observers++
		}
	}
	return producers, observers
}

// Close 는 새 연결을 막고 모든 연결에 close frame 을 보낸다.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	log.Info().Int("connections", len(conns)).Msg("gateway closed")
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump 는 수신 프레임을 처리한다.
// producer 의 pi_analysis_result 만 Hub 로 넘기고 나머지는 무시한다.
func (g *Gateway) readPump(c *conn, handler Handler) {
	defer func() {
		c.shutdown()
		_ = c.ws.Close()

		if g.unregister(c) {
			log.Info().Str("conn_id", c.id).Str("role", string(c.role)).Msg("session disconnected")
			if c.role == model.RoleObserver {
				handler.OnObserverDisconnected(c.id)
			}
		}
	}()

	c.ws.SetReadLimit(g.opt.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.opt.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.opt.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("websocket read error")
			}
			return
		}

		event, raw, err := decodeFrame(data)
		if err != nil {
			log.Warn().Err(err).Str("conn_id", c.id).Int("bytes", len(data)).Msg("malformed frame")
			continue
		}

		if c.role != model.RoleProducer || event != model.EventIngest {
			log.Debug().Str("conn_id", c.id).Str("role", string(c.role)).Str("event", event).Msg("frame ignored")
			continue
		}

		g.dispatch(c, handler, raw)
	}
}

// dispatch 는 Hub 호출 중 panic 이 나도 이 연결의 read loop 를 유지한다.
func (g *Gateway) dispatch(c *conn, handler Handler, raw model.RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conn_id", c.id).Msg("ingestion handler panic recovered")
		}
	}()
	handler.OnIngestionEvent(c.id, raw)
}

// writePump 는 큐의 프레임을 순서대로 쓰고 주기적으로 ping 을 보낸다.
func (g *Gateway) writePump(c *conn) {
	ticker := time.NewTicker(g.opt.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.opt.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.opt.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.opt.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// encodeFrame 은 {"event": ..., "data": ...} 한 개를 만든다.
// pool 버퍼는 반납되므로 결과는 복사해서 돌려준다.
func encodeFrame(event string, payload any) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(model.Envelope{Event: event, Data: payload}); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return bytes.Clone(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// decodeFrame 은 수신 프레임을 event 이름과 RawEvent 로 나눈다.
// data 가 object 가 아니면 raw 는 nil 이고, 이후 검증 단계에서 거절된다.
func decodeFrame(data []byte) (string, model.RawEvent, error) {
	var env model.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}

	var raw model.RawEvent
	if len(env.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			raw = nil
		}
	}
	return env.Event, raw, nil
}
