package tcp

import "errors"

// Sentinel errors for the device transport.
var (
	ErrNoGreeting     = errors.New("connection closed before greeting")
	ErrHandshakeWrite = errors.New("handshake write failed")
	ErrListen         = errors.New("listen failed")
	ErrNoHandler      = errors.New("no connection handler")
)
