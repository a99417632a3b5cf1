package realtime

import "errors"

var (
	ErrSubscriptionLimit  = errors.New("realtime: subscription limit reached")
	ErrInvalidPattern     = errors.New("realtime: invalid topic pattern")
	ErrSubscriptionMissing = errors.New("realtime: subscription not found")
)
