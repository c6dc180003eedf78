package notifcache

import "errors"

// Domain errors for the notifcache package.
var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("notifcache: store unavailable")

	// ErrInvalidNotification is returned when a notification is missing its
	// identity fields.
	ErrInvalidNotification = errors.New("notifcache: invalid notification")
)
