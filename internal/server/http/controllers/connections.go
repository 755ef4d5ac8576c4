package controllers

import (
	"net/http"

	"github.com/zhongdj/reactiveservices/internal/server/ws"
)

// ConnectionLister exposes the live consumer connections of the node's
// WebSocket edge.
type ConnectionLister interface {
	Connections() []ws.ConnectionStats
}

// ConnectionsController lists live consumer connections.
type ConnectionsController struct {
	conns ConnectionLister
}

// NewConnectionsController creates a new connections controller.
func NewConnectionsController(conns ConnectionLister) *ConnectionsController {
	return &ConnectionsController{conns: conns}
}

// RegisterRoutes registers connection routes with the given mux.
func (c *ConnectionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/connections", c.handleConnections)
}

// handleConnections returns the live consumer connections, empty when the
// node runs without a consumer edge.
func (c *ConnectionsController) handleConnections(w http.ResponseWriter, _ *http.Request) {
	list := []ws.ConnectionStats{}
	if c.conns != nil {
		list = append(list, c.conns.Connections()...)
	}
	writeJSON(w, map[string]any{"connections": list})
}
