package domain

import "errors"

var ErrChannelIDEmpty = errors.New("channel id empty")

// ChannelID identifies a voice channel.
type ChannelID string

func (c ChannelID) Validate() error {
	if c == "" {
		return ErrChannelIDEmpty
	}
	return nil
}
