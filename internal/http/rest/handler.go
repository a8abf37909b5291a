package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/session"
	"github.com/italolelis/jdownloader_remote/internal/storage"
	"github.com/italolelis/jdownloader_remote/internal/telemetry"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBodySize         = 1 << 20
)

// Sessions is the part of the session manager the handlers need.
type Sessions interface {
	WithSession(ctx context.Context, action func(ctx context.Context, deviceID string) error) error
	Snapshot() session.Session
}

type Handler struct {
	sessions  Sessions
	client    upstream.Client
	journal   storage.SubmissionRepository
	telemetry *telemetry.Telemetry
}

// NewHandler creates the API handler. A nil journal disables submission
// history.
func NewHandler(sessions Sessions, client upstream.Client, journal storage.SubmissionRepository, t *telemetry.Telemetry) *Handler {
	return &Handler{
		sessions:  sessions,
		client:    client,
		journal:   journal,
		telemetry: t,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/add", h.HandleAdd)
	r.Get("/downloads", h.HandleDownloads)
	r.Get("/devices", h.HandleDevices)
	r.Get("/packages", h.HandlePackages)

	if h.journal != nil {
		r.Get("/history", h.HandleHistory)
	}

	return r
}

type addRequest struct {
	Links     json.RawMessage `json:"links"`
	Autostart *bool           `json:"autostart"`
}

type addResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Result  *upstream.AddResult `json:"result"`
}

// HandleAdd forwards links to the target device.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req addRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		logger.DebugContext(ctx, "failed to decode add request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	links, err := parseLinks(req.Links)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}

	autostart := true
	if req.Autostart != nil {
		autostart = *req.Autostart
	}

	var (
		result   *upstream.AddResult
		deviceID string
	)

	err = h.sessions.WithSession(ctx, func(ctx context.Context, id string) error {
		deviceID = id

		var err error
		result, err = h.client.AddLinks(ctx, id, links, autostart)

		return err
	})

	if !errors.Is(err, session.ErrNotConnected) {
		h.record(ctx, deviceID, links, autostart, err)
	}

	if err != nil {
		h.telemetry.RecordLinksSubmitted(ctx, len(links), "error")
		h.writeErr(ctx, w, err)

		return
	}

	h.telemetry.RecordLinksSubmitted(ctx, len(links), "success")
	logger.InfoContext(ctx, "links added",
		"device_id", deviceID,
		"count", len(links),
		"autostart", autostart)

	writeJSON(ctx, w, http.StatusOK, addResponse{
		Success: true,
		Message: "Download added successfully",
		Result:  result,
	})
}

// HandleDownloads lists the target device's links, newest first.
func (h *Handler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var links []upstream.Link

	err := h.sessions.WithSession(ctx, func(ctx context.Context, deviceID string) error {
		var err error
		links, err = h.client.QueryLinks(ctx, deviceID)

		return err
	})
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "downloads listed",
		"count", len(links),
		"progress", progress(links))

	writeJSON(ctx, w, http.StatusOK, upstream.SortByAddedDate(links))
}

// progress renders the loaded/total byte counts of links, e.g. "1.2 GB / 3.4 GB".
// JDownloader reports unknown sizes as -1; those are skipped.
func progress(links []upstream.Link) string {
	loaded, total := upstream.Totals(links)

	return humanize.Bytes(loaded) + " / " + humanize.Bytes(total)
}

type devicesResponse struct {
	Devices []upstream.Device `json:"devices"`
	Current string            `json:"current"`
}

// HandleDevices reports the cached device list without calling upstream.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Snapshot()
	if !s.Connected() {
		writeError(w, http.StatusServiceUnavailable, session.ErrNotConnected.Error())
		return
	}

	devices := s.Devices
	if devices == nil {
		devices = []upstream.Device{}
	}

	writeJSON(r.Context(), w, http.StatusOK, devicesResponse{Devices: devices, Current: s.TargetDeviceID})
}

// HandlePackages lists the packages of the target device's links.
func (h *Handler) HandlePackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	packages := []upstream.Package{}

	err := h.sessions.WithSession(ctx, func(ctx context.Context, deviceID string) error {
		links, err := h.client.QueryLinks(ctx, deviceID)
		if err != nil {
			return err
		}

		uuids := packageUUIDs(links)
		if len(uuids) == 0 {
			return nil
		}

		result, err := h.client.QueryPackages(ctx, deviceID, uuids)
		if err != nil {
			return err
		}

		if result != nil {
			packages = result
		}

		return nil
	})
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, packages)
}

// HandleHistory lists recorded submissions, newest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}

		limit = min(n, maxHistoryLimit)
	}

	submissions, err := h.journal.ListSubmissions(ctx, limit)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, submissions)
}

func (h *Handler) record(ctx context.Context, deviceID string, links []string, autostart bool, cause error) {
	if h.journal == nil {
		return
	}

	s := &storage.Submission{
		DeviceID:  deviceID,
		Links:     links,
		Autostart: autostart,
		Status:    storage.StatusSuccess,
	}

	if cause != nil {
		s.Status = storage.StatusFailed
		s.Error = cause.Error()
	}

	if err := h.journal.RecordSubmission(ctx, s); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record submission", "err", err)
		h.telemetry.RecordSystemError(ctx, "journal", "record_failed")
	}
}

// packageUUIDs returns the distinct package UUIDs of links in first-seen order.
func packageUUIDs(links []upstream.Link) []int64 {
	seen := make(map[int64]struct{}, len(links))
	uuids := make([]int64, 0, len(links))

	for _, l := range links {
		if _, ok := seen[l.PackageUUID]; ok {
			continue
		}

		seen[l.PackageUUID] = struct{}{}
		uuids = append(uuids, l.PackageUUID)
	}

	return uuids
}

func (h *Handler) writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logctx.LoggerFromContext(ctx)

	var invalidErr *InvalidLinksError

	switch {
	case errors.As(err, &invalidErr), errors.Is(err, ErrNoLinks), errors.Is(err, ErrLinksType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		logger.WarnContext(ctx, "request without upstream session", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.ErrorContext(ctx, "upstream request failed", "err", err)
		writeError(w, http.StatusInternalServerError, formatError(err))
	}
}

// formatError turns upstream failures into messages for the UI.
func formatError(err error) string {
	var networkErr *upstream.NetworkError
	if errors.As(err, &networkErr) && networkErr.APIMessage != "" {
		return fmt.Sprintf("upstream request failed: %s", networkErr.APIMessage)
	}

	var authErr *upstream.AuthExpiredError
	if errors.As(err, &authErr) {
		return "upstream session expired"
	}

	return err.Error()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
