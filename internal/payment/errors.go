package payment

import "errors"

// ErrNoChannel is returned by ChannelByPeer when no channel is known for the
// peer; callers distinguish it from transient lookup failures.
var ErrNoChannel = errors.New("no channel for peer")
