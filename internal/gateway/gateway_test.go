package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pi-receiver/internal/blob"
	"pi-receiver/internal/fanout"
	"pi-receiver/internal/history"
	"pi-receiver/internal/metrics"
	"pi-receiver/internal/model"
	"pi-receiver/internal/normalize"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type nopStore struct{}

func (nopStore) Save(context.Context, blob.Category, string, []byte) (string, error) {
	return "", errors.New("no images in gateway tests")
}

func (nopStore) Open(context.Context, blob.Category, string) (io.ReadCloser, error) {
	return nil, blob.ErrNotFound
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testEnv struct {
	gw  *Gateway
	hub *fanout.Hub
	m   *metrics.Metrics
	srv *httptest.Server
}

func newTestEnv(t *testing.T, opt Options) *testEnv {
	t.Helper()
	m := metrics.New()
	opt.Metrics = m

	gw := New(opt)
	hub := fanout.New(normalize.New(normalize.Options{Store: nopStore{}, Metrics: m}), history.New(10), gw, m)
	gw.SetHandler(hub)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return &testEnv{gw: gw, hub: hub, m: m, srv: srv}
}

func (e *testEnv) dial(t *testing.T, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/socket"
	if role != "" {
		url += "?role=" + role
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (e *testEnv) waitCounts(t *testing.T, producers, observers int) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, o := e.gw.Counts()
		return p == producers && o == observers
	}, 2*time.Second, 10*time.Millisecond)
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func readReport(t *testing.T, ws *websocket.Conn) model.Report {
	t.Helper()
	f := readFrame(t, ws)
	require.Equal(t, model.EventResult, f.Event)

	var r model.Report
	require.NoError(t, json.Unmarshal(f.Data, &r))
	return r
}

func readAck(t *testing.T, ws *websocket.Conn) model.Ack {
	t.Helper()
	f := readFrame(t, ws)
	require.Equal(t, model.EventReceived, f.Event)

	var ack model.Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	return ack
}

func sendIngest(t *testing.T, ws *websocket.Conn, data string) {
	t.Helper()
	msg := `{"event":"` + model.EventIngest + `","data":` + data + `}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestProducerAckAndObserverBroadcast(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := env.dial(t, "observer")
	prod := env.dial(t, "producer")
	env.waitCounts(t, 1, 1)

	sendIngest(t, prod, `{"capture_id":"c1","report":{"health_score":20}}`)

	ack := readAck(t, prod)
	require.Equal(t, model.Ack{Success: true, CaptureID: "c1", Message: fanout.MessageAccepted}, ack)

	r := readReport(t, obs)
	require.Equal(t, "pi-c1", r.ID)
	require.Equal(t, model.SeverityCritical, r.Severity)
	require.Nil(t, r.PrimaryImageRef)
}

func TestProducerRejectedAck(t *testing.T) {
	env := newTestEnv(t, Options{})
	prod := env.dial(t, "producer")

	sendIngest(t, prod, `{"report":{"health_score":20}}`)
	ack := readAck(t, prod)
	require.False(t, ack.Success)
	require.Equal(t, normalize.ReasonMissingFields, ack.Error)

	sendIngest(t, prod, `"not an object"`)
	ack = readAck(t, prod)
	require.False(t, ack.Success)

	require.Empty(t, env.hub.History())
}

func TestObserverReplayBeforeLive(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, id := range []string{"R3", "R4", "R5"} {
		_, err := env.hub.Ingest(context.Background(), model.RawEvent{
			"capture_id": id,
			"report":     map[string]any{"health_score": 90.0},
		})
		require.NoError(t, err)
	}

	obs := env.dial(t, "")
	require.Equal(t, "R5", readReport(t, obs).CaptureID)
	require.Equal(t, "R4", readReport(t, obs).CaptureID)
	require.Equal(t, "R3", readReport(t, obs).CaptureID)

	prod := env.dial(t, "producer")
	sendIngest(t, prod, `{"capture_id":"R6","report":{"health_score":90}}`)
	require.True(t, readAck(t, prod).Success)
	require.Equal(t, "R6", readReport(t, obs).CaptureID)
	require.EqualValues(t, 3, env.m.ReplayedReportsTotal)
}

func TestObserverFramesIgnored(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := env.dial(t, "observer")
	env.waitCounts(t, 0, 1)

	sendIngest(t, obs, `{"capture_id":"c1","report":{"health_score":20}}`)
	require.NoError(t, obs.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// 무시된 뒤에도 연결은 살아 있고 이후 broadcast 를 받는다.
	prod := env.dial(t, "producer")
	sendIngest(t, prod, `{"capture_id":"c2","report":{"health_score":20}}`)
	require.True(t, readAck(t, prod).Success)
	require.Equal(t, "c2", readReport(t, obs).CaptureID)
	require.Len(t, env.hub.History(), 1)
}

func TestMalformedProducerFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t, Options{})
	prod := env.dial(t, "producer")

	require.NoError(t, prod.WriteMessage(websocket.TextMessage, []byte("garbage")))
	sendIngest(t, prod, `{"capture_id":"c1","report":{"health_score":55}}`)
	require.True(t, readAck(t, prod).Success)
}

func TestDisconnectUpdatesCounts(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := env.dial(t, "observer")
	prod := env.dial(t, "producer")
	env.waitCounts(t, 1, 1)

	require.NoError(t, obs.Close())
	require.NoError(t, prod.Close())
	env.waitCounts(t, 0, 0)
	require.Zero(t, env.m.ObserversCurrent)
	require.Zero(t, env.m.ProducersCurrent)
}

func TestCloseRejectsNewSessions(t *testing.T) {
	env := newTestEnv(t, Options{})
	obs := env.dial(t, "observer")
	env.waitCounts(t, 0, 1)

	env.gw.Close()

	require.NoError(t, obs.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := obs.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/socket"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// 큐가 가득 찬 observer 는 broadcast 를 막지 않고 끊긴다.
func TestSlowObserverDropped(t *testing.T) {
	m := metrics.New()
	gw := New(Options{SendBuffer: 1, Metrics: m})

	slow := &conn{id: "slow", role: model.RoleObserver, send: make(chan []byte, 1), done: make(chan struct{}), subscribed: true}
	fast := &conn{id: "fast", role: model.RoleObserver, send: make(chan []byte, 8), done: make(chan struct{}), subscribed: true}
	gw.conns[slow.id] = slow
	gw.conns[fast.id] = fast

	require.Equal(t, 2, gw.Broadcast(model.EventResult, map[string]string{"n": "1"}))
	require.Equal(t, 1, gw.Broadcast(model.EventResult, map[string]string{"n": "2"}))
	require.Equal(t, 1, gw.Broadcast(model.EventResult, map[string]string{"n": "3"}))

	select {
	case <-slow.done:
	default:
		t.Fatal("slow observer was not closed")
	}
	require.Len(t, fast.send, 3)
	require.EqualValues(t, 1, m.ObserversDroppedTotal)

	err := gw.Send("slow", model.EventResult, nil)
	require.Error(t, err)
}

func TestSubscribeAndSendErrors(t *testing.T) {
	gw := New(Options{})
	gw.conns["p"] = &conn{id: "p", role: model.RoleProducer, send: make(chan []byte, 1), done: make(chan struct{})}

	require.ErrorIs(t, gw.Subscribe("p"), ErrNotObserver)
	require.ErrorIs(t, gw.Subscribe("missing"), ErrUnknownConn)
	require.ErrorIs(t, gw.Send("missing", model.EventResult, nil), ErrUnknownConn)
	require.Zero(t, gw.Broadcast(model.EventResult, nil))

	require.NoError(t, gw.Send("p", model.EventReceived, model.Ack{Success: true}))
	require.Equal(t, `{"event":"pi-analysis-received","data":{"success":true}}`, string(<-gw.conns["p"].send))
}

func TestDecodeFrame(t *testing.T) {
	event, raw, err := decodeFrame([]byte(`{"event":"pi_analysis_result","data":{"capture_id":7,"report":{"health_score":1.5}}}`))
	require.NoError(t, err)
	require.Equal(t, model.EventIngest, event)
	require.Equal(t, json.Number("7"), raw["capture_id"])

	event, raw, err = decodeFrame([]byte(`{"event":"pi_analysis_result","data":[1,2]}`))
	require.NoError(t, err)
	require.Equal(t, model.EventIngest, event)
	require.Nil(t, raw)

	_, _, err = decodeFrame([]byte(`nope`))
	require.Error(t, err)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		xff    string
		remote string
		want   string
	}{
		{"203.0.113.1, 10.0.1.24", "10.0.0.2:5000", "203.0.113.1"},
		{"10.0.1.24, 203.0.113.9", "10.0.0.2:5000", "203.0.113.9"},
		{"192.168.0.20", "10.0.0.2:5000", "192.168.0.20"},
		{"bogus", "192.168.0.31:40000", "192.168.0.31"},
		{"", "[::1]:5001", "::1"},
		{"", "not-an-addr", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/socket", nil)
		r.RemoteAddr = tc.remote
		if tc.xff != "" {
			r.Header.Set("X-Forwarded-For", tc.xff)
		}
		require.Equal(t, tc.want, clientIP(r), tc)
	}
}
