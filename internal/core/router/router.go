// Package router exposes the analytics endpoints over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dabbsLondon/pivot-experiment/internal/core/apierr"
	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

const defaultMaxBody = 1 << 20

// Analytics serves the aggregation requests behind the HTTP handlers.
type Analytics interface {
	Pivot(ctx context.Context, req model.PivotRequest) (model.PivotResponse, error)
	Exposure(ctx context.Context, q model.ExposureQuery) (model.ExposureResponse, error)
	Pnl(ctx context.Context, q model.PnlQuery) (model.PnlResponse, error)
	Instruments(ctx context.Context, q model.InstrumentsQuery) (model.InstrumentsResponse, error)
	Constituents(ctx context.Context, q model.ConstituentsQuery) (model.ConstituentsResponse, error)
}

type Handler struct {
	svc     Analytics
	logger  *slog.Logger
	maxBody int64
}

func New(svc Analytics, logger *slog.Logger, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{svc: svc, logger: logger, maxBody: maxBody}
}

// Routes mounts the /api/v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pivot", h.Pivot)
		r.Get("/exposure", h.Exposure)
		r.Get("/pnl", h.Pnl)
		r.Get("/instruments", h.Instruments)
		r.Get("/constituents", h.Constituents)
	})
}

func (h *Handler) Pivot(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodePivot(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.Pivot(r.Context(), req)
	h.reply(w, r, resp, err)
}

func (h *Handler) Exposure(w http.ResponseWriter, r *http.Request) {
	q, err := ParseExposureQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.Exposure(r.Context(), q)
	h.reply(w, r, resp, err)
}

func (h *Handler) Pnl(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Pnl(r.Context(), ParsePnlQuery(r))
	h.reply(w, r, resp, err)
}

func (h *Handler) Instruments(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	resp, err := h.svc.Instruments(r.Context(), model.InstrumentsQuery{
		AssetClass:     optional(v, "asset_class"),
		InstrumentType: optional(v, "instrument_type"),
	})
	h.reply(w, r, resp, err)
}

func (h *Handler) Constituents(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	resp, err := h.svc.Constituents(r.Context(), model.ConstituentsQuery{
		ParentSymbol:      optional(v, "parent_symbol"),
		ConstituentSymbol: optional(v, "constituent_symbol"),
	})
	h.reply(w, r, resp, err)
}

func (h *Handler) decodePivot(w http.ResponseWriter, r *http.Request) (model.PivotRequest, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	defer body.Close()

	var req model.PivotRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var unknown *model.UnknownValueError
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &unknown):
			return req, apierr.New(apierr.Validation, unknown.Error())
		case errors.As(err, &tooBig):
			return req, apierr.New(apierr.BadRequest, "request body too large")
		default:
			return req, apierr.Wrap(apierr.BadRequest, "invalid JSON body", err)
		}
	}
	return req, nil
}

// ParseExposureQuery reads trade_date, group_by (default asset_class), view and cache_bypass.
func ParseExposureQuery(r *http.Request) (model.ExposureQuery, error) {
	v := r.URL.Query()
	view, err := model.ParseExposureView(v.Get("view"))
	if err != nil {
		return model.ExposureQuery{}, apierr.New(apierr.Validation, err.Error())
	}
	groupBy := strings.TrimSpace(v.Get("group_by"))
	if groupBy == "" {
		groupBy = "asset_class"
	}
	return model.ExposureQuery{
		TradeDate:   strings.TrimSpace(v.Get("trade_date")),
		GroupBy:     groupBy,
		View:        view,
		CacheBypass: flag(v.Get("cache_bypass")),
	}, nil
}

// ParsePnlQuery reads trade_date, a comma separated group_by (default portfolio_manager_id)
// and cache_bypass. An explicitly empty group_by yields an empty list.
func ParsePnlQuery(r *http.Request) model.PnlQuery {
	v := r.URL.Query()
	raw := "portfolio_manager_id"
	if v.Has("group_by") {
		raw = v.Get("group_by")
	}
	var cols []string
	for c := range strings.SplitSeq(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return model.PnlQuery{
		TradeDate:   strings.TrimSpace(v.Get("trade_date")),
		GroupBy:     cols,
		CacheBypass: flag(v.Get("cache_bypass")),
	}
}

func optional(v map[string][]string, k string) *string {
	vals, ok := v[k]
	if !ok || len(vals) == 0 {
		return nil
	}
	s := vals[0]
	return &s
}

func flag(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		h.fail(w, r, apierr.Wrap(apierr.Internal, "encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.WarnContext(r.Context(), "write response failed", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.As(err)
	if e.Kind.Status() >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "kind", e.Kind.String(), "err", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "kind", e.Kind.String(), "err", err)
	}
	apierr.Write(w, e)
}
