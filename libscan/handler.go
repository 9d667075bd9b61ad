package libscan

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/pkg/jsonerr"
	"github.com/fleetvuln/fleetvuln/predictor"
)

var _ http.Handler = (*HTTP)(nil)

// HTTP is the transport surface over a Libscan. Handler glue only; every
// decision lives in the library.
type HTTP struct {
	*http.ServeMux
	l *Libscan
}

func NewHandler(l *Libscan) *HTTP {
	h := &HTTP{l: l}
	m := http.NewServeMux()
	m.HandleFunc("POST /scan", h.Scan)
	m.HandleFunc("POST /predict", h.Predict)
	m.HandleFunc("POST /bulk_scan", h.BulkScan)
	m.HandleFunc("GET /jobs/{id}", h.JobStatus)
	m.HandleFunc("DELETE /jobs/{id}", h.CancelJob)
	m.HandleFunc("GET /devices", h.ListDevices)
	m.HandleFunc("POST /devices", h.AddDevice)
	m.HandleFunc("GET /devices/{hostname}/{ip}", h.GetDevice)
	m.HandleFunc("DELETE /devices/{hostname}/{ip}", h.DeleteDevice)
	m.HandleFunc("POST /devices/{hostname}/{ip}/discover", h.Discover)
	m.HandleFunc("POST /devices/{hostname}/{ip}/snapshot", h.AcceptSnapshot)
	m.HandleFunc("GET /devices/{hostname}/{ip}/diff", h.CompareScans)
	m.HandleFunc("GET /devices/{hostname}/{ip}/compare", h.CompareVersions)
	m.HandleFunc("POST /inventory/sync", h.SyncInventory)
	m.HandleFunc("POST /inventory/mark_stale", h.MarkStale)
	m.HandleFunc("GET /scans/{id}", h.ScanResult)
	m.HandleFunc("POST /updates/apply", h.ApplyUpdate)
	m.HandleFunc("GET /updates/export", h.ExportUpdate)
	m.HandleFunc("POST /gc", h.GC)
	h.ServeMux = m
	return h
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Can't change header or write a different response, because we
		// already started.
		zlog.Warn(r.Context()).Err(err).Msg("failed to encode response")
	}
}

func (h *HTTP) Scan(w http.ResponseWriter, r *http.Request) {
	var req fleetvuln.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "malformed scan request"}, http.StatusBadRequest)
		return
	}
	report, err := h.l.Scan(r.Context(), &req)
	if err != nil {
		jsonerr.Domain(w, "scan-error", err)
		return
	}
	writeJSON(w, r, report)
}

func (h *HTTP) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictor.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "malformed predict request"}, http.StatusBadRequest)
		return
	}
	pred, err := h.l.Predict(r.Context(), req)
	if err != nil {
		jsonerr.Domain(w, "predict-error", err)
		return
	}
	writeJSON(w, r, pred)
}

func (h *HTTP) BulkScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platforms []fleetvuln.Platform `json:"platforms,omitempty"`
		IDs       []string             `json:"ids,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "malformed bulk scan request"}, http.StatusBadRequest)
		return
	}
	st, err := h.l.BulkScan(r.Context(), req.Platforms, req.IDs)
	if err != nil {
		jsonerr.Domain(w, "bulk-scan-error", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, r, st)
}

func (h *HTTP) JobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.l.JobStatus(r.PathValue("id"))
	if err != nil {
		jsonerr.Domain(w, "job-error", err)
		return
	}
	writeJSON(w, r, st)
}

func (h *HTTP) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.l.CancelJob(r.PathValue("id")); err != nil {
		jsonerr.Domain(w, "job-error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) ListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter datastore.DeviceFilter
	for _, p := range q["platform"] {
		platform, err := fleetvuln.ParsePlatform(p)
		if err != nil {
			jsonerr.Domain(w, "bad-request", err)
			return
		}
		filter.Platforms = append(filter.Platforms, platform)
	}
	filter.Status = fleetvuln.DiscoveryStatus(q.Get("status"))
	devices, err := h.l.ListDevices(r.Context(), filter)
	if err != nil {
		jsonerr.Domain(w, "device-error", err)
		return
	}
	writeJSON(w, r, devices)
}

func (h *HTTP) AddDevice(w http.ResponseWriter, r *http.Request) {
	var stub fleetvuln.DeviceStub
	if err := json.NewDecoder(r.Body).Decode(&stub); err != nil {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "malformed device"}, http.StatusBadRequest)
		return
	}
	id, created, err := h.l.AddDevice(r.Context(), &stub)
	if err != nil {
		jsonerr.Domain(w, "device-error", err)
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	writeJSON(w, r, map[string]any{"id": id, "created": created})
}

func (h *HTTP) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.l.GetDevice(r.Context(), r.PathValue("hostname"), r.PathValue("ip"))
	if err != nil {
		jsonerr.Domain(w, "device-error", err)
		return
	}
	writeJSON(w, r, d)
}

func (h *HTTP) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.l.DeleteDevice(r.Context(), r.PathValue("hostname"), r.PathValue("ip")); err != nil {
		jsonerr.Domain(w, "device-error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) Discover(w http.ResponseWriter, r *http.Request) {
	var creds driver.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "malformed credentials"}, http.StatusBadRequest)
		return
	}
	d, err := h.l.Discover(r.Context(), r.PathValue("hostname"), r.PathValue("ip"), creds)
	if err != nil && d == nil {
		jsonerr.Domain(w, "discover-error", err)
		return
	}
	// A recorded discovery failure still returns the device row.
	writeJSON(w, r, d)
}

func (h *HTTP) AcceptSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := fleetvuln.ParseSnapshot(r.Body)
	if err != nil {
		jsonerr.Domain(w, "snapshot-error", err)
		return
	}
	d, err := h.l.AcceptSnapshot(r.Context(), r.PathValue("hostname"), r.PathValue("ip"), snap)
	if err != nil {
		jsonerr.Domain(w, "snapshot-error", err)
		return
	}
	writeJSON(w, r, d)
}

func (h *HTTP) CompareScans(w http.ResponseWriter, r *http.Request) {
	diff, err := h.l.CompareScans(r.Context(), r.PathValue("hostname"), r.PathValue("ip"))
	if err != nil {
		jsonerr.Domain(w, "compare-error", err)
		return
	}
	writeJSON(w, r, diff)
}

func (h *HTTP) CompareVersions(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "target query param is required"}, http.StatusBadRequest)
		return
	}
	cmp, err := h.l.CompareVersions(r.Context(), r.PathValue("hostname"), r.PathValue("ip"), target)
	if err != nil {
		jsonerr.Domain(w, "compare-error", err)
		return
	}
	writeJSON(w, r, cmp)
}

func (h *HTTP) SyncInventory(w http.ResponseWriter, r *http.Request) {
	created, total, err := h.l.SyncInventory(r.Context())
	if err != nil {
		jsonerr.Domain(w, "inventory-error", err)
		return
	}
	writeJSON(w, r, map[string]int{"created": created, "total": total})
}

func (h *HTTP) MarkStale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThan time.Time `json:"older_than"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OlderThan.IsZero() {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "older_than timestamp is required"}, http.StatusBadRequest)
		return
	}
	n, err := h.l.MarkStale(r.Context(), req.OlderThan)
	if err != nil {
		jsonerr.Domain(w, "inventory-error", err)
		return
	}
	writeJSON(w, r, map[string]int64{"marked": n})
}

func (h *HTTP) ScanResult(w http.ResponseWriter, r *http.Request) {
	report, err := h.l.ScanResult(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonerr.Domain(w, "scan-error", err)
		return
	}
	writeJSON(w, r, report)
}

func (h *HTTP) ApplyUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path       string `json:"path"`
		SkipVerify bool   `json:"skip_verify,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "package path is required"}, http.StatusBadRequest)
		return
	}
	report, err := h.l.ApplyUpdate(r.Context(), req.Path, req.SkipVerify)
	if err != nil {
		jsonerr.Domain(w, "update-error", err)
		return
	}
	writeJSON(w, r, report)
}

func (h *HTTP) ExportUpdate(w http.ResponseWriter, r *http.Request) {
	var platforms []fleetvuln.Platform
	for _, p := range r.URL.Query()["platform"] {
		platform, err := fleetvuln.ParsePlatform(p)
		if err != nil {
			jsonerr.Domain(w, "bad-request", err)
			return
		}
		platforms = append(platforms, platform)
	}
	if len(platforms) == 0 {
		platforms = fleetvuln.Platforms()
	}
	w.Header().Set("Content-Type", "application/zip")
	if _, err := h.l.ExportUpdate(r.Context(), w, platforms, ""); err != nil {
		zlog.Warn(r.Context()).Err(err).Msg("export failed mid-stream")
	}
}

func (h *HTTP) GC(w http.ResponseWriter, r *http.Request) {
	keep := 2
	if s := r.URL.Query().Get("keep"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "bad-request", Message: "keep must be an integer"}, http.StatusBadRequest)
			return
		}
		keep = n
	}
	removed, err := h.l.GC(r.Context(), keep)
	if err != nil {
		jsonerr.Domain(w, "gc-error", err)
		return
	}
	writeJSON(w, r, map[string]int64{"removed": removed})
}
