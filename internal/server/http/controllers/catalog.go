package controllers

import (
	"net/http"

	"github.com/zhongdj/reactiveservices/internal/runtime"
)

// CatalogController lists the services and topic instances produced on
// this node, with optional CEL filtering.
type CatalogController struct {
	rt *runtime.Runtime
}

// NewCatalogController creates a new catalog controller.
func NewCatalogController(rt *runtime.Runtime) *CatalogController {
	return &CatalogController{rt: rt}
}

// RegisterRoutes registers catalog routes with the given mux.
func (c *CatalogController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/catalog", c.handleCatalog)
}

// handleCatalog lists topic instances. The optional "filter" query holds a
// CEL expression over {service, topic, kind, tags}, e.g.
// filter=service=="telemetry" && tags["zone"]=="eu".
func (c *CatalogController) handleCatalog(w http.ResponseWriter, r *http.Request) {
	filter, err := newSubjectFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	entries := []catalogEntry{}
	for _, key := range c.rt.Registry().Keys() {
		svc, ok := c.rt.Registry().Get(key)
		if !ok {
			continue
		}
		for _, subj := range svc.Subjects() {
			topic, ok := svc.Topic(subj)
			if !ok {
				continue
			}
			kind := topic.Snapshot().Kind().String()
			if !filter.Eval(subj.Service, subj.Topic, kind, subj.Tags) {
				continue
			}
			entries = append(entries, catalogEntry{
				Service: subj.Service,
				Topic:   subj.Topic,
				Tags:    subj.Tags,
				Kind:    kind,
			})
		}
	}
	writeJSON(w, catalogResp{Node: c.rt.NodeID(), Entries: entries})
}
