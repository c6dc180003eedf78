package stream

import "errors"

// Stream errors. Use errors.Is for comparison:
//
//	if errors.Is(err, stream.ErrUnknownDevice) {
//	    // reject the subscription request
//	}
var (
	// ErrUnknownDevice indicates a subscription for a device not in the registry.
	ErrUnknownDevice = errors.New("stream: unknown device")

	// ErrSubscriberGone indicates the subscriber's connection failed during subscription.
	ErrSubscriberGone = errors.New("stream: subscriber gone")
)
