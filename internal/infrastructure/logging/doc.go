// Package logging provides structured logging for bridged.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields. The returned *Logger satisfies the small Logger
// interfaces declared by the reactor, transport, jsonrpc and link packages.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	peerLog := logger.ForPeer("amp")
//	peerLog.Warn("peer connection error", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
