package notifier

import "errors"

var (
	// ErrNoChannels is returned when a service is created without any
	// delivery channel.
	ErrNoChannels = errors.New("no delivery channels configured")
	// ErrDeliveryFailed is returned when every configured channel rejected
	// a notification.
	ErrDeliveryFailed = errors.New("all delivery channels failed")
)
