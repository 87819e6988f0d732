package orch

import (
	"context"
	"errors"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// Voice joins and leaves channels for one local participant: membership
// first, then the voice session on top of it.
type Voice struct {
	Orch        *Orchestrator
	Membership  core.Membership
	Participant *domain.Participant
}

func NewVoice(o *Orchestrator, m core.Membership, p *domain.Participant) *Voice {
	return &Voice{Orch: o, Membership: m, Participant: p}
}

func (v *Voice) Status() core.Status { return v.Orch.Status() }

// Join enters channel and initializes the session with the capabilities the
// SFU returned. A failed Init leaves the channel again.
func (v *Voice) Join(ctx context.Context, channel domain.ChannelID) error {
	if err := channel.Validate(); err != nil {
		return err
	}
	caps, err := v.Membership.Join(ctx, channel, v.Participant.ID)
	if err != nil {
		return err
	}
	if err := v.Orch.Init(ctx, caps, channel); err != nil {
		if lerr := v.Membership.Leave(ctx); lerr != nil {
			log.Warn().Err(lerr).Str("module", "orch").Str("channel", string(channel)).Msg("leave after failed init")
		}
		return err
	}
	return nil
}

// Leave tears the session down and then leaves the channel.
func (v *Voice) Leave(ctx context.Context) error {
	channel := v.Orch.Channel()
	v.Orch.Cleanup(ctx)
	if channel == "" {
		return nil
	}
	return v.Membership.Leave(ctx)
}

// Run applies remote events until ctx is done or events is closed, then
// leaves whatever channel is still joined.
func (v *Voice) Run(ctx context.Context, events <-chan core.RemoteEvent) error {
	v.Orch.RunRemoteEvents(ctx, events)
	err := v.Leave(context.WithoutCancel(ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
