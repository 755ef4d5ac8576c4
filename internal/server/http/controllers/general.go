package controllers

import (
	"net/http"

	"github.com/zhongdj/reactiveservices/internal/runtime"
)

// GeneralController handles health and node identity endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/node", c.handleNode)
}

// handleHealth returns 200 with {"status":"ok"} when the node is serving,
// 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleNode returns the node's cluster identity.
func (c *GeneralController) handleNode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"nodeId": c.rt.NodeID()})
}
