package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/app/orch"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const controlsKey = "voice_controls"

var errNoSession = errors.New("no live voice session")

type handlers struct {
	deps Deps
}

type JoinRequest struct {
	Channel string `json:"channel"`
}

type MuteRequest struct {
	Muted bool `json:"muted"`
}

type MicrophoneRequest struct {
	DeviceID string `json:"deviceId"`
}

type StatusResponse struct {
	Status       core.Status      `json:"status"`
	Channel      domain.ChannelID `json:"channel,omitempty"`
	Muted        bool             `json:"muted"`
	DSPAvailable bool             `json:"dspAvailable"`
}

// requireControls resolves the live session's controls or answers 409.
func (h *handlers) requireControls(c *gin.Context) {
	controls, ok := h.deps.Controls.Controls()
	if !ok {
		abortError(c, http.StatusConflict, errNoSession)
		return
	}
	c.Set(controlsKey, controls)
	c.Next()
}

func controlsOf(c *gin.Context) app.VoiceControls {
	return c.MustGet(controlsKey).(app.VoiceControls)
}

func (h *handlers) status(c *gin.Context) {
	resp := StatusResponse{Status: h.deps.Voice.Status()}
	if controls, ok := h.deps.Controls.Controls(); ok {
		resp.Channel = controls.Channel()
		resp.Muted = controls.Muted()
		resp.DSPAvailable = controls.DSPAvailable()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	channel := domain.ChannelID(req.Channel)
	if err := channel.Validate(); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.deps.Voice.Join(c.Request.Context(), channel); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("channel", req.Channel).Msg("join failed")
		abortError(c, joinErrorCode(err), userError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.deps.Voice.Status(), "channel": channel})
}

func joinErrorCode(err error) int {
	var stepErr *orch.StepError
	if errors.As(err, &stepErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// userError replaces device failures with their user-facing message.
func userError(err error) error {
	var derr *audio.DeviceError
	if errors.As(err, &derr) {
		return errors.New(derr.UserMessage())
	}
	return err
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.deps.Voice.Leave(c.Request.Context()); err != nil {
		abortError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.deps.Voice.Status()})
}

func (h *handlers) consumers(c *gin.Context) {
	keys := controlsOf(c).Consumers()
	if keys == nil {
		keys = []core.ConsumerKey{}
	}
	c.JSON(http.StatusOK, gin.H{"consumers": keys})
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, controlsOf(c).Stats())
}

func (h *handlers) gate(c *gin.Context) {
	c.JSON(http.StatusOK, controlsOf(c).Gate())
}

func (h *handlers) setGate(c *gin.Context) {
	cfg := controlsOf(c).Gate()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if err := controlsOf(c).SetGate(cfg); err != nil {
		abortError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handlers) setMute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	controlsOf(c).SetMuted(req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": controlsOf(c).Muted()})
}

func (h *handlers) meter(c *gin.Context) {
	db, ok := controlsOf(c).MeterReading()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "decibels": db})
}

func (h *handlers) switchMicrophone(c *gin.Context) {
	var req MicrophoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if err := controlsOf(c).SwitchMicrophone(c.Request.Context(), req.DeviceID); err != nil {
		var derr *audio.DeviceError
		if errors.As(err, &derr) {
			abortError(c, http.StatusUnprocessableEntity, userError(err))
			return
		}
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": req.DeviceID})
}

func (h *handlers) relays(c *gin.Context) {
	if h.deps.Relays == nil {
		c.JSON(http.StatusOK, gin.H{"relays": []app.RelayCounters{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relays": h.deps.Relays.Counters()})
}

func (h *handlers) devices(c *gin.Context) {
	if h.deps.Devices == nil {
		c.JSON(http.StatusOK, gin.H{"devices": []audio.DeviceInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": h.deps.Devices.Devices()})
}
