package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errSilent makes the fake SFU swallow a request.
var errSilent = errors.New("silent")

type handlerFunc func(data json.RawMessage) (any, error)

type fakeSFU struct {
	t        *testing.T
	server   *httptest.Server
	handlers map[string]handlerFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	methods  []string
	payloads map[string]json.RawMessage
	ready    chan struct{}
}

func newFakeSFU(t *testing.T, handlers map[string]handlerFunc) *fakeSFU {
	f := &fakeSFU{t: t, handlers: handlers, payloads: map[string]json.RawMessage{}, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = ws
		f.mu.Unlock()
		close(f.ready)
		f.serve(ws)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSFU) url() string { return "ws" + strings.TrimPrefix(f.server.URL, "http") }

func (f *fakeSFU) serve(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.payloads[req.Method] = req.Data
		f.mu.Unlock()

		resp := map[string]any{"id": req.ID, "ok": true}
		h, ok := f.handlers[req.Method]
		if ok {
			out, err := h(req.Data)
			switch {
			case errors.Is(err, errSilent):
				continue
			case err != nil:
				resp["ok"] = false
				resp["error"] = err.Error()
			case out != nil:
				resp["data"] = out
			}
		}
		f.write(resp)
	}
}

func (f *fakeSFU) write(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(v); err != nil {
		f.t.Logf("fake sfu write: %v", err)
	}
}

func (f *fakeSFU) notify(method string, participant, kind string) {
	<-f.ready
	f.write(map[string]any{
		"notification": true,
		"method":       method,
		"data":         map[string]any{"participantId": participant, "kind": kind},
	})
}

func (f *fakeSFU) dropConnection() {
	<-f.ready
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeSFU) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeSFU) payload(method string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[method]
}

func dial(t *testing.T, f *fakeSFU) *Client {
	t.Helper()
	opts := DefaultOptions()
	opts.URL = f.url()
	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientRequests(t *testing.T) {
	f := newFakeSFU(t, map[string]handlerFunc{
		methodJoin: func(json.RawMessage) (any, error) {
			return map[string]any{"routerRtpCapabilities": map[string]any{
				"codecs": []map[string]any{{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2}},
			}}, nil
		},
		methodCreateTransport: func(data json.RawMessage) (any, error) {
			var req createTransportRequest
			_ = json.Unmarshal(data, &req)
			return map[string]any{"id": string(req.Direction) + "-1"}, nil
		},
		methodProduce: func(json.RawMessage) (any, error) {
			return map[string]any{"id": "producer-1"}, nil
		},
		methodConsume: func(json.RawMessage) (any, error) {
			return map[string]any{"id": "consumer-1", "producerId": "producer-9", "kind": "audio"}, nil
		},
		methodGetProducers: func(json.RawMessage) (any, error) {
			return map[string][]string{"audio": {"userA", "userB"}, "hologram": {"userC"}}, nil
		},
	})
	c := dial(t, f)
	ctx := context.Background()

	caps, err := c.Join(ctx, "general", "me")
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 1)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.JSONEq(t, `{"channelId":"general","participantId":"me"}`, string(f.payload(methodJoin)))

	send, err := c.CreateSendTransport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "send-1", send.ID)
	recv, err := c.CreateRecvTransport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recv-1", recv.ID)

	require.NoError(t, c.ConnectTransport(ctx, send.ID, webrtcDTLS()))

	id, err := c.Produce(ctx, send.ID, domain.StreamAudio, core.RTPParameters{})
	require.NoError(t, err)
	assert.Equal(t, "producer-1", id)

	resp, err := c.Consume(ctx, domain.StreamAudio, "userA", caps)
	require.NoError(t, err)
	assert.Equal(t, "consumer-1", resp.ID)
	assert.Equal(t, domain.TrackAudio, resp.Kind)

	active, err := c.ActiveProducers(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.ActiveProducers{domain.StreamAudio: {"userA", "userB"}}, active)

	require.NoError(t, c.CloseProducer(ctx, domain.StreamAudio))
	assert.JSONEq(t, `{"kind":"audio"}`, string(f.payload(methodCloseProducer)))
	require.NoError(t, c.Leave(ctx))

	assert.Equal(t, []string{
		methodJoin, methodCreateTransport, methodCreateTransport, methodConnect,
		methodProduce, methodConsume, methodGetProducers, methodCloseProducer, methodLeave,
	}, f.seen())
}

func TestClientRequestError(t *testing.T) {
	f := newFakeSFU(t, map[string]handlerFunc{
		methodProduce: func(json.RawMessage) (any, error) { return nil, errors.New("transport not found") },
	})
	c := dial(t, f)

	_, err := c.Produce(context.Background(), "nope", domain.StreamVideo, core.RTPParameters{})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, methodProduce, reqErr.Method)
	assert.Equal(t, "transport not found", reqErr.Message)
}

func TestClientNotifications(t *testing.T) {
	f := newFakeSFU(t, nil)
	c := dial(t, f)

	f.notify("newProducer", "userA", "audio")
	f.notify("newProducer", "userB", "hologram")
	f.notify("producerClosed", "userA", "audio")

	want := []core.RemoteEvent{
		{Type: core.RemoteProducerAdded, Participant: "userA", Kind: domain.StreamAudio},
		{Type: core.RemoteProducerClosed, Participant: "userA", Kind: domain.StreamAudio},
	}
	for _, w := range want {
		select {
		case ev := <-c.Events():
			assert.Equal(t, w, ev)
		case <-time.After(time.Second):
			t.Fatalf("missing event %+v", w)
		}
	}
}

func TestClientContextCancel(t *testing.T) {
	f := newFakeSFU(t, map[string]handlerFunc{
		methodGetProducers: func(json.RawMessage) (any, error) { return nil, errSilent },
	})
	c := dial(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ActiveProducers(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientConnectionLost(t *testing.T) {
	f := newFakeSFU(t, map[string]handlerFunc{
		methodLeave: func(json.RawMessage) (any, error) { return nil, errSilent },
	})
	c := dial(t, f)

	errc := make(chan error, 1)
	go func() { errc <- c.Leave(context.Background()) }()
	assert.Eventually(t, func() bool { return len(f.seen()) == 1 }, time.Second, 5*time.Millisecond)
	f.dropConnection()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request not released")
	}
	<-c.Done()
	_, ok := <-c.Events()
	assert.False(t, ok)
	require.ErrorIs(t, c.CloseProducer(context.Background(), domain.StreamAudio), ErrClosed)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	f := newFakeSFU(t, nil)
	c := dial(t, f)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Leave(context.Background()), ErrClosed)
}

func TestClientRateLimit(t *testing.T) {
	f := newFakeSFU(t, nil)
	opts := Options{URL: f.url(), RateLimit: 2, RateInterval: time.Hour}
	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.CloseProducer(ctx, domain.StreamAudio))
	require.NoError(t, c.CloseProducer(ctx, domain.StreamVideo))
	require.ErrorIs(t, c.CloseProducer(ctx, domain.StreamScreen), ErrRateLimited)
	require.NoError(t, c.Leave(ctx))
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), Options{URL: "ws://127.0.0.1:1/nowhere"})
	require.Error(t, err)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("produce"))
	assert.True(t, rl.Allow("produce"))
	assert.False(t, rl.Allow("produce"))
	assert.True(t, rl.Allow("consume"))

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("produce"))

	assert.True(t, NewRateLimiter(0, time.Second).Allow("anything"))
}

func webrtcDTLS() webrtc.DTLSParameters {
	return webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleClient,
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}
}
