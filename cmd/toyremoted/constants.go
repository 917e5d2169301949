package main

// Daemon defaults
const (
	defaultButtplugURL       = "ws://127.0.0.1:12345"
	defaultButtplugClient    = "toyremoted"
	defaultReadTimeoutMS     = 2000 // Timeout for the Buttplug handshake reply (ms)
	defaultOutboundQueue     = 256  // Buffered Buttplug commands before new ones are dropped
	defaultConnectAttempts   = 10
	defaultConnectRetryDelay = 500 // ms
	defaultDiscoverTimeoutMS = 1500

	defaultSocketPath   = "/tmp/toyremote.sock"
	defaultStateWSPath  = "/ws/state"
	defaultPatternsDir  = "~/.config/toyremote/patterns"
	defaultOwnerUID     = "local"
	defaultEventsBuffer = 64

	// Buttplug message spec version spoken by the client
	buttplugMessageVersion = 3
)
