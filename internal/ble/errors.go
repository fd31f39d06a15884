package ble

import "errors"

// Error kinds from §7. Sentinel values rather than typed wrappers: callers
// compare with errors.Is, and none of these carry payload beyond a message.
var (
	ErrAdapterUnavailable = errors.New("ble: default adapter unavailable")
	ErrAdvertiseRejected  = errors.New("ble: platform rejected advertisement registration")
	ErrServeRejected      = errors.New("ble: platform rejected GATT application registration")
	ErrConnectFailed      = errors.New("ble: connect retries exhausted")
	ErrIdentifierMissing  = errors.New("ble: remote did not expose the read characteristic")
	ErrUnknownReceiver    = errors.New("ble: could not find a device address for the given identifier")
	ErrDeviceNotFound     = errors.New("ble: receiver device not found")
	ErrNotStarted         = errors.New("ble: core is not started")
	ErrAlreadyStarted     = errors.New("ble: core is already started")
)
