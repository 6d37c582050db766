package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

const maxBodyBytes = 1 << 20

type publishRequest struct {
	trailercast.PublishJob
	Targets []string `json:"targets"`
	Force   bool     `json:"force"`
}

type publishResponse struct {
	Results   []trailercast.PublishResult `json:"results"`
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
	Skipped   int                         `json:"skipped"`
}

type resetRequest struct {
	Platform string `json:"platform"`
}

func (h *Handler) targets(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "", h.svc.Targets())
}

func (h *Handler) quota(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "", h.svc.QuotaUsage(r.Context()))
}

func (h *Handler) resetQuota(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
			return
		}
	}
	if err := h.svc.ResetQuotas(r.Context(), req.Platform); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	msg := "all quotas reset"
	if req.Platform != "" {
		msg = req.Platform + " quotas reset"
	}
	writeSuccess(w, http.StatusOK, msg, nil)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	var req publishRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), reqID)
		return
	}
	// Local paths are not accepted over HTTP.
	if req.Video.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "video.url is required", reqID)
		return
	}
	req.Video.Path = ""

	targets := h.svc.Targets()
	if len(req.Targets) > 0 {
		parsed, err := trailercast.ParseTargets(strings.Join(req.Targets, ","))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), reqID)
			return
		}
		targets = parsed
	}

	results := h.svc.PublishAll(r.Context(), req.PublishJob, targets, req.Force, nil)
	resp := publishResponse{Results: results}
	for _, res := range results {
		switch {
		case res.Success:
			resp.Succeeded++
		case res.Skipped:
			resp.Skipped++
		default:
			resp.Failed++
		}
	}
	writeSuccess(w, http.StatusOK, "", resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.HistoryFilter{
		Target:   strings.TrimSpace(q.Get("target")),
		SourceID: strings.TrimSpace(q.Get("source_id")),
		Limit:    50,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer", requestIDFromContext(r.Context()))
			return
		}
		filter.Limit = n
	}
	recs, err := h.svc.History(r.Context(), filter)
	if err != nil {
		h.logger.Printf("Error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read history", requestIDFromContext(r.Context()))
		return
	}
	if recs == nil {
		recs = []storage.PublishRecord{}
	}
	writeSuccess(w, http.StatusOK, "", recs)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
