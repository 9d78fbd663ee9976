package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/upstreams"
	"github.com/restypanel/restywatch/pkg/types"
)

// listUpstreams returns GET /api/v1/upstreams, sorted by name.
func (h *Handler) listUpstreams(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.buildUpstreams())
}

// getUpstream returns GET /api/v1/upstreams/{name} with diagnostics.
func (h *Handler) getUpstream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, ok := h.engine.Upstream(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "upstream not found")
		return
	}
	jsonResp(w, http.StatusOK, UpstreamDetail{
		UpstreamResponse: toUpstreamResponse(e),
		Config:           e.Config,
		Diagnostics:      computeDiagnostics(e),
		HealthCheckForm:  upstreams.DefaultHealthCheckForm(e.Config.HealthCheck),
	})
}

func (h *Handler) showConf(w http.ResponseWriter, r *http.Request) {
	content, err := h.upstreams.ShowConf(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ConfResponse{Content: content})
}

// createUpstream handles POST /api/v1/upstreams.
func (h *Handler) createUpstream(w http.ResponseWriter, r *http.Request) {
	var cfg types.UpstreamConfig
	if !decode(w, r, &cfg) {
		return
	}
	saved, err := h.upstreams.Save(r.Context(), "", cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, saved)
}

// updateUpstream handles PUT /api/v1/upstreams/{name}. The body's name must
// match the path.
func (h *Handler) updateUpstream(w http.ResponseWriter, r *http.Request) {
	var cfg types.UpstreamConfig
	if !decode(w, r, &cfg) {
		return
	}
	h.respond(w)(h.upstreams.Save(r.Context(), mux.Vars(r)["name"], cfg))
}

func (h *Handler) deleteUpstream(w http.ResponseWriter, r *http.Request) {
	if err := h.upstreams.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleUpstream(w http.ResponseWriter, r *http.Request) {
	enable, ok := decodeEnable(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.upstreams.ToggleUpstream(r.Context(), mux.Vars(r)["name"], enable))
}

func (h *Handler) setHealthCheck(w http.ResponseWriter, r *http.Request) {
	var form upstreams.HealthCheckForm
	if !decode(w, r, &form) {
		return
	}
	h.respond(w)(h.upstreams.SetHealthCheck(r.Context(), mux.Vars(r)["name"], form))
}

// addServer handles POST /api/v1/upstreams/{name}/servers.
func (h *Handler) addServer(w http.ResponseWriter, r *http.Request) {
	var req AddServerRequest
	if !decode(w, r, &req) {
		return
	}
	saved, err := h.upstreams.AddServer(r.Context(), mux.Vars(r)["name"], req.Address, req.Weight)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, saved)
}

func (h *Handler) deleteServer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.respond(w)(h.upstreams.DeleteServer(r.Context(), vars["name"], vars["address"]))
}

func (h *Handler) toggleServer(w http.ResponseWriter, r *http.Request) {
	enable, ok := decodeEnable(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	h.respond(w)(h.upstreams.ToggleServer(r.Context(), vars["name"], vars["address"], enable))
}

// respond writes the saved config or the mapped error.
func (h *Handler) respond(w http.ResponseWriter) func(types.UpstreamConfig, error) {
	return func(saved types.UpstreamConfig, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		jsonResp(w, http.StatusOK, saved)
	}
}

func decodeEnable(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req EnableRequest
	if !decode(w, r, &req) {
		return false, false
	}
	if req.Enable == nil {
		jsonErr(w, http.StatusBadRequest, "enable is required")
		return false, false
	}
	return *req.Enable, true
}

func (h *Handler) buildUpstreams() []UpstreamResponse {
	entries := h.engine.Upstreams()
	out := make([]UpstreamResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toUpstreamResponse(e))
	}
	return out
}

func toUpstreamResponse(e *topology.Entry) UpstreamResponse {
	up, down, unknown := countViews(e.Views)
	servers := e.Views
	if servers == nil {
		servers = []types.ServerView{}
	}
	return UpstreamResponse{
		Name:        e.Config.Name,
		Enabled:     e.Config.Enabled(),
		NoChecker:   e.NoChecker,
		Up:          up,
		Down:        down,
		Unknown:     unknown,
		Servers:     servers,
		HealthCheck: e.Config.HealthCheck,
		UpdatedAt:   rfc3339(e.UpdatedAt),
	}
}
