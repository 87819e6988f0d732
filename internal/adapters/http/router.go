// Package http serves the local control API of the voice client.
package http

import (
	"context"

	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Voice is channel membership as the API drives it.
type Voice interface {
	Join(ctx context.Context, channel domain.ChannelID) error
	Leave(ctx context.Context) error
	Status() core.Status
}

type Relays interface {
	Counters() []app.RelayCounters
}

type Deps struct {
	Voice    Voice
	Controls *app.ControlRegistry
	Devices  audio.Opener
	Relays   Relays
	Gatherer prometheus.Gatherer
}

func SetupRouter(mode string, deps Deps) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{deps: deps}

	api := r.Group("/api")
	api.GET("/devices", h.devices)

	voice := api.Group("/voice")
	voice.GET("/status", h.status)
	voice.POST("/join", h.join)
	voice.POST("/leave", h.leave)

	live := voice.Group("", h.requireControls)
	live.GET("/consumers", h.consumers)
	live.GET("/stats", h.stats)
	live.GET("/gate", h.gate)
	live.PUT("/gate", h.setGate)
	live.PUT("/mute", h.setMute)
	live.GET("/meter", h.meter)
	live.PUT("/microphone", h.switchMicrophone)
	live.GET("/relays", h.relays)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}

func abortError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
