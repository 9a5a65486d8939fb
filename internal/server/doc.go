// Package server implements the WebSocket transport and HTTP shell for the
// presenced service.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows. The hub groups connections
// into named channels (one per application namespace and one per room) and
// delivers inbound protocol frames to an EventHandler supplied at wiring
// time; it never interprets frame contents itself.
package server
