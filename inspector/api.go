package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-inspect/internal/dockerfile"
	"github.com/animus-labs/animus-inspect/internal/inspection"
	"github.com/animus-labs/animus-inspect/internal/openapi"
	"github.com/animus-labs/animus-inspect/internal/platform/httpserver"
	"github.com/animus-labs/animus-inspect/internal/platform/requestid"
	"github.com/animus-labs/animus-inspect/internal/service/inspections"
	"github.com/animus-labs/animus-inspect/internal/specification"
)

const apiPrefix = "/api/v1"

type inspectorAPI struct {
	logger       *slog.Logger
	validator    *openapi.Validator
	dispatcher   *inspections.Dispatcher
	status       *inspections.StatusAggregator
	results      *inspections.Results
	lister       *inspections.Lister
	version      string
	maxBodyBytes int64

	paths []string
}

func (api *inspectorAPI) register(mux *http.ServeMux) {
	for _, prefix := range []string{apiPrefix, ""} {
		api.handle(mux, "POST", prefix+"/inspection", api.handleCreateInspection)
		api.handle(mux, "GET", prefix+"/inspection", api.handleListInspections)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/status", api.handleStatus)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/specification", api.handleSpecification)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/build/log", api.handleBuildLog)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/job/batch-size", api.handleBatchSize)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/job/{item}/log", api.handleJobLog)
		api.handle(mux, "GET", prefix+"/inspection/{inspection_id}/job/{item}/result", api.handleJobResult)
		api.handle(mux, "POST", prefix+"/dockerfile", api.handleDockerfile)
		api.handle(mux, "GET", prefix+"/version", api.handleVersion)
	}
	mux.HandleFunc("GET "+apiPrefix, api.handleIndex)
	mux.HandleFunc("GET /openapi.yaml", api.handleOpenAPI)
}

func (api *inspectorAPI) handle(mux *http.ServeMux, method, path string, h http.HandlerFunc) {
	mux.HandleFunc(method+" "+path, h)
	if strings.HasPrefix(path, apiPrefix+"/") {
		api.paths = append(api.paths, method+" "+path)
	}
}

func (api *inspectorAPI) handleIndex(w http.ResponseWriter, r *http.Request) {
	paths := append([]string(nil), api.paths...)
	sort.Strings(paths)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"service": "inspector",
		"version": api.version,
		"paths":   paths,
	})
}

func (api *inspectorAPI) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Document())
}

func (api *inspectorAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"service":     "inspector",
		"version":     api.version,
		"api_version": api.validator.Version(),
	})
}

func (api *inspectorAPI) handleCreateInspection(w http.ResponseWriter, r *http.Request) {
	spec, tree, status, err := api.decodeSpecification(w, r)
	if err != nil {
		api.writeError(w, r, status, err.Error(), tree)
		return
	}
	dispatched, err := api.dispatcher.Dispatch(r.Context(), spec)
	if err != nil {
		api.writeServiceError(w, r, err, tree)
		return
	}
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"inspection_id": dispatched.ID,
		"parameters":    dispatched.Specification,
	})
}

func (api *inspectorAPI) handleDockerfile(w http.ResponseWriter, r *http.Request) {
	spec, tree, status, err := api.decodeSpecification(w, r)
	params := map[string]any{"specification": tree}
	if err != nil {
		api.writeError(w, r, status, err.Error(), params)
		return
	}
	_, df, err := api.dispatcher.Compile(r.Context(), spec)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"parameters": params,
		"dockerfile": df,
	})
}

func (api *inspectorAPI) handleListInspections(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "page must be an integer", nil)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "limit must be an integer", nil)
		return
	}
	out, err := api.lister.List(r.Context(), page, limit)
	if err != nil {
		api.writeServiceError(w, r, err, nil)
		return
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *inspectorAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, params, ok := api.inspectionID(w, r)
	if !ok {
		return
	}
	st, err := api.status.Status(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"status": st, "parameters": params})
}

func (api *inspectorAPI) handleSpecification(w http.ResponseWriter, r *http.Request) {
	id, params, ok := api.inspectionID(w, r)
	if !ok {
		return
	}
	spec, err := api.results.Specification(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"specification": spec, "parameters": params})
}

func (api *inspectorAPI) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	id, params, ok := api.inspectionID(w, r)
	if !ok {
		return
	}
	log, err := api.results.BuildLog(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"log": log, "parameters": params})
}

func (api *inspectorAPI) handleBatchSize(w http.ResponseWriter, r *http.Request) {
	id, params, ok := api.inspectionID(w, r)
	if !ok {
		return
	}
	n, err := api.results.BatchSize(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"batch_size": n, "parameters": params})
}

func (api *inspectorAPI) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id, item, params, ok := api.inspectionItem(w, r)
	if !ok {
		return
	}
	log, err := api.results.JobLog(r.Context(), id, item)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"log": log, "parameters": params})
}

func (api *inspectorAPI) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id, item, params, ok := api.inspectionItem(w, r)
	if !ok {
		return
	}
	result, err := api.results.JobResult(r.Context(), id, item)
	if err != nil {
		api.writeServiceError(w, r, err, params)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"result": result, "parameters": params})
}

// inspectionID rejects ids NewID could never have produced with 404.
func (api *inspectorAPI) inspectionID(w http.ResponseWriter, r *http.Request) (inspection.ID, map[string]any, bool) {
	raw := r.PathValue("inspection_id")
	params := map[string]any{"inspection_id": raw}
	id, err := inspection.ParseID(raw)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "no inspection "+strconv.Quote(raw)+" found", params)
		return "", params, false
	}
	return id, params, true
}

func (api *inspectorAPI) inspectionItem(w http.ResponseWriter, r *http.Request) (inspection.ID, int, map[string]any, bool) {
	id, params, ok := api.inspectionID(w, r)
	if !ok {
		return "", 0, params, false
	}
	raw := r.PathValue("item")
	params["item"] = raw
	item, err := strconv.Atoi(raw)
	if err != nil || item < 0 {
		api.writeError(w, r, http.StatusBadRequest, "item must be a non-negative integer", params)
		return "", 0, params, false
	}
	params["item"] = item
	return id, item, params, true
}

// decodeSpecification reads a JSON or YAML body, checks it against the
// OpenAPI schema and decodes it. tree is the generic form of the body for
// echoing back in error responses.
func (api *inspectorAPI) decodeSpecification(w http.ResponseWriter, r *http.Request) (specification.Specification, any, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return specification.Specification{}, nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return specification.Specification{}, nil, http.StatusBadRequest, err
	}
	contentType := r.Header.Get("Content-Type")
	raw, err := specification.ToJSON(contentType, body)
	if err != nil {
		return specification.Specification{}, nil, http.StatusBadRequest, err
	}

	var tree any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return specification.Specification{}, nil, http.StatusBadRequest, &specification.ValidationError{Issues: []string{"invalid json: " + err.Error()}}
	}
	if issues := api.validator.Validate("Specification", tree); len(issues) > 0 {
		return specification.Specification{}, tree, http.StatusBadRequest, &specification.ValidationError{Issues: issues}
	}
	spec, err := specification.Decode("application/json", raw)
	if err != nil {
		return specification.Specification{}, tree, http.StatusBadRequest, err
	}
	return spec, tree, 0, nil
}

// writeServiceError maps the error taxonomy of the service layer to HTTP.
func (api *inspectorAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error, params any) {
	var (
		validationErr *specification.ValidationError
		fetchErr      *dockerfile.ScriptFetchError
		upstreamErr   *inspection.UpstreamError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &fetchErr):
		api.writeError(w, r, http.StatusBadRequest, err.Error(), params)
	case errors.Is(err, inspection.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, err.Error(), params)
	case errors.As(err, &upstreamErr):
		rid, _ := requestid.FromContext(r.Context())
		api.logger.Error("upstream failure",
			"request_id", rid,
			"inspection_id", upstreamErr.ID.String(),
			"op", upstreamErr.Op,
			"error", upstreamErr.Err.Error(),
		)
		api.writeError(w, r, http.StatusInternalServerError, err.Error(), params)
	default:
		rid, _ := requestid.FromContext(r.Context())
		api.logger.Error("request failed", "request_id", rid, "path", r.URL.Path, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal error", params)
	}
}

func (api *inspectorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, params any) {
	rid, _ := requestid.FromContext(r.Context())
	body := map[string]any{
		"error":      msg,
		"parameters": params,
		"request_id": rid,
	}
	api.writeJSON(w, status, body)
}

func (api *inspectorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
