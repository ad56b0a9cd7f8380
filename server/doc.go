// Package server binds the proxy's TCP listener and dispatches requests
// to a handler.Handler. It exposes a second, optional listener for
// Prometheus metrics, since the main listener must 404 on every path
// except the single "/" route.
package server
