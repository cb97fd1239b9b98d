package tensor

import "errors"

var (
	// ErrInvalidDimensions reports a tensor or weight buffer whose size does
	// not match the declared shape.
	ErrInvalidDimensions = errors.New("invalid dimensions")
	// ErrChannelLimitExceeded reports a softmax request wider than
	// MaxSoftmaxChannels.
	ErrChannelLimitExceeded = errors.New("channel limit exceeded")
	ErrArenaExhausted       = errors.New("arena exhausted")
)
