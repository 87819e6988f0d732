package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/app/orch"
	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVoice struct {
	status  core.Status
	joinErr error
	joined  domain.ChannelID
	left    bool
}

func (v *fakeVoice) Join(_ context.Context, ch domain.ChannelID) error {
	if v.joinErr != nil {
		return v.joinErr
	}
	v.joined = ch
	v.status = core.StatusConnected
	return nil
}

func (v *fakeVoice) Leave(context.Context) error {
	v.left = true
	v.status = core.StatusDisconnected
	return nil
}

func (v *fakeVoice) Status() core.Status { return v.status }

type fakeControls struct {
	gate      dsp.GateConfig
	gateErr   error
	muted     bool
	reading   float64
	hasMeter  bool
	device    string
	switchErr error
}

func (f *fakeControls) Status() core.Status       { return core.StatusConnected }
func (f *fakeControls) Channel() domain.ChannelID { return "general" }
func (f *fakeControls) Consumers() []core.ConsumerKey {
	return []core.ConsumerKey{{Participant: "userA", Kind: domain.StreamAudio}}
}
func (f *fakeControls) Stats() stats.Snapshot { return stats.Snapshot{Monitoring: true} }
func (f *fakeControls) SetGate(cfg dsp.GateConfig) error {
	if f.gateErr != nil {
		return f.gateErr
	}
	f.gate = cfg
	return nil
}
func (f *fakeControls) Gate() dsp.GateConfig          { return f.gate }
func (f *fakeControls) SetMuted(m bool)               { f.muted = m }
func (f *fakeControls) Muted() bool                   { return f.muted }
func (f *fakeControls) MeterReading() (float64, bool) { return f.reading, f.hasMeter }
func (f *fakeControls) DSPAvailable() bool            { return true }
func (f *fakeControls) SwitchMicrophone(_ context.Context, id string) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.device = id
	return nil
}

type fakeRelays []app.RelayCounters

func (r fakeRelays) Counters() []app.RelayCounters { return r }

type apiFixture struct {
	router   *gin.Engine
	voice    *fakeVoice
	controls *fakeControls
	registry *app.ControlRegistry
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	_ = stats.NewMetrics(reg)

	f := &apiFixture{
		voice:    &fakeVoice{status: core.StatusDisconnected},
		controls: &fakeControls{gate: dsp.DefaultGateConfig()},
		registry: app.NewControlRegistry(),
	}
	f.router = SetupRouter("test", Deps{
		Voice:    f.voice,
		Controls: f.registry,
		Devices:  audio.NewSyntheticDevices(false),
		Relays:   fakeRelays{{Key: core.ConsumerKey{Participant: "userA", Kind: domain.StreamAudio}, Packets: 3}},
		Gatherer: reg,
	})
	return f
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatusWithoutSession(t *testing.T) {
	f := newAPI(t)
	w := f.do(http.MethodGet, "/api/voice/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disconnected", decode(t, w)["status"])

	for _, path := range []string{"/api/voice/consumers", "/api/voice/stats", "/api/voice/meter", "/api/voice/gate"} {
		w := f.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
}

func TestJoinAndLeave(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodPost, "/api/voice/join", `{"channel":"general"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ChannelID("general"), f.voice.joined)
	assert.Equal(t, "connected", decode(t, w)["status"])

	w = f.do(http.MethodPost, "/api/voice/leave", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.voice.left)
}

func TestJoinErrors(t *testing.T) {
	f := newAPI(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/voice/join", `{"channel":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/voice/join", `not json`).Code)

	f.voice.joinErr = &orch.StepError{Step: orch.StepSendTransport, Err: errors.New("sfu down")}
	w := f.do(http.MethodPost, "/api/voice/join", `{"channel":"general"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode(t, w)["error"], "sfu down")

	f.voice.joinErr = &orch.StepError{Step: orch.StepMicrophone, Err: &audio.DeviceError{Device: "x", Reason: audio.ReasonPermissionDenied}}
	w = f.do(http.MethodPost, "/api/voice/join", `{"channel":"general"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, (&audio.DeviceError{Reason: audio.ReasonPermissionDenied}).UserMessage(), decode(t, w)["error"])
}

func TestLiveControls(t *testing.T) {
	f := newAPI(t)
	f.registry.Bind("general", f.controls)

	w := f.do(http.MethodGet, "/api/voice/status", "")
	body := decode(t, w)
	assert.Equal(t, "general", body["channel"])
	assert.Equal(t, true, body["dspAvailable"])

	w = f.do(http.MethodGet, "/api/voice/consumers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"consumers":[{"participantId":"userA","kind":"audio"}]}`, w.Body.String())

	w = f.do(http.MethodPut, "/api/voice/gate", `{"thresholdDb":-40}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -40.0, f.controls.gate.ThresholdDb)
	assert.Equal(t, dsp.DefaultGateConfig().HoldMs, f.controls.gate.HoldMs)

	f.controls.gateErr = errors.New("bad threshold")
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPut, "/api/voice/gate", `{"thresholdDb":10}`).Code)

	w = f.do(http.MethodPut, "/api/voice/mute", `{"muted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.controls.muted)

	w = f.do(http.MethodGet, "/api/voice/meter", "")
	assert.Equal(t, false, decode(t, w)["available"])
	f.controls.reading, f.controls.hasMeter = -42, true
	w = f.do(http.MethodGet, "/api/voice/meter", "")
	assert.Equal(t, -42.0, decode(t, w)["decibels"])

	w = f.do(http.MethodPut, "/api/voice/microphone", `{"deviceId":"tone:440"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tone:440", f.controls.device)

	f.controls.switchErr = &audio.DeviceError{Device: "file:/x", Reason: audio.ReasonNotFound}
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPut, "/api/voice/microphone", `{"deviceId":"file:/x"}`).Code)

	w = f.do(http.MethodGet, "/api/voice/relays", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"packets":3`)

	w = f.do(http.MethodGet, "/api/voice/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDevicesAndMetrics(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"default"`)

	w = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voiceclient_")
}
