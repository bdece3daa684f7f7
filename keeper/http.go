package keeper

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/recsnap/kit"
	"github.com/hazyhaar/recsnap/shield"
	"github.com/hazyhaar/recsnap/snapshot"
)

// Handler returns the JSON HTTP API.
//
//	GET    /health
//	GET    /snapshots?record_type=&record_id=
//	POST   /snapshots
//	GET    /snapshots/{label}
//	DELETE /snapshots/{label}
//	DELETE /snapshots?record_type=
//	GET    /diff?from=&to=&format=
//	GET    /stats?record_type=&record_id=&top=
//	GET    /history/{type}/{id}
//	GET    /audit?action=&since=&limit=
//	GET    /metrics
func (k *Keeper) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(k.logger) {
		r.Use(mw)
	}
	r.Use(k.metrics.httpMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": k.svc.Backend().Name()})
	})

	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", k.handleList)
		r.Post("/", k.handleSave)
		r.Delete("/", k.handleClear)
		r.Get("/{label}", k.handleLoad)
		r.Delete("/{label}", k.handleDelete)
	})
	r.Get("/diff", k.handleDiff)
	r.Get("/stats", k.handleStats)
	r.Get("/history/{type}/{id}", k.handleHistory)
	r.Get("/audit", k.handleAudit)
	r.Handle("/metrics", k.metrics.handler())
	return r
}

func (k *Keeper) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := k.list(r.Context(), queryScope(r))
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (k *Keeper) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	if req.Actor != "" {
		ctx = kit.WithActor(ctx, req.Actor)
	}
	snap, err := k.saveEndpoint()(ctx, &req)
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (k *Keeper) handleLoad(w http.ResponseWriter, r *http.Request) {
	snap, err := k.svc.Require(r.Context(), urlParam(r, "label"))
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (k *Keeper) handleDelete(w http.ResponseWriter, r *http.Request) {
	label := urlParam(r, "label")
	resp, err := k.deleteEndpoint()(r.Context(), &labelRequest{Label: label})
	if err != nil {
		k.fail(w, r, err)
		return
	}
	if !resp.(map[string]bool)["deleted"] {
		k.fail(w, r, &snapshot.NotFoundError{Labels: []string{label}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (k *Keeper) handleClear(w http.ResponseWriter, r *http.Request) {
	resp, err := k.clearEndpoint()(r.Context(), &scopeRequest{RecordType: r.URL.Query().Get("record_type")})
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (k *Keeper) handleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &diffRequest{From: q.Get("from"), To: q.Get("to"), Format: q.Get("format")}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, errors.New("from and to are required"))
		return
	}
	d, err := k.diff(r.Context(), req)
	if err != nil {
		k.fail(w, r, err)
		return
	}
	if req.Format == formatJSONPatch {
		w.Header().Set("Content-Type", "application/json-patch+json")
		w.WriteHeader(http.StatusOK)
		w.Write(d.(json.RawMessage))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (k *Keeper) handleStats(w http.ResponseWriter, r *http.Request) {
	sum, err := k.summarize(r.Context(), queryScope(r), queryInt(r, "top", 0))
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (k *Keeper) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := k.svc.History(r.Context(), urlParam(r, "type"), urlParam(r, "id"))
	if err != nil {
		k.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// fail maps engine errors to HTTP status codes.
func (k *Keeper) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, snapshot.ErrSerialization), errors.Is(err, errNoRecord), errors.Is(err, errBadFormat):
		writeError(w, http.StatusBadRequest, err)
	default:
		shield.GetLogger(r.Context()).Error("keeper: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func queryScope(r *http.Request) snapshot.Scope {
	q := r.URL.Query()
	return snapshot.Scope{RecordType: q.Get("record_type"), RecordID: q.Get("record_id")}
}

func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
