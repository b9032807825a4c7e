package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/agentblock"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/receipt"
	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
	"github.com/zakyafrilliansyah/RequestTap-Router/pkg/responders"
)

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"routes": s.routes.Snapshot().Rules(),
	})
}

// admitRoute runs the registration-time admission predicates: SSRF guard
// on the backend URL, then the x402-upstream probe.
func (s *Server) admitRoute(w http.ResponseWriter, r *http.Request, rule routes.Rule) bool {
	if !rule.SkipSSRFCheck {
		if err := s.ssrf.CheckBackendURL(r.Context(), rule.Provider.BackendURL); err != nil {
			responders.Error(w, reason.CodeSSRFBlocked.HTTPStatus(), string(reason.CodeSSRFBlocked), err.Error())
			return false
		}
	}
	if err := s.prober.CheckUpstream(r.Context(), rule.Provider.BackendURL, rule.Path); err != nil {
		var x402Err *routes.ErrX402Upstream
		if errors.As(err, &x402Err) {
			responders.Error(w, reason.CodeX402UpstreamBlocked.HTTPStatus(), string(reason.CodeX402UpstreamBlocked), err.Error())
			return false
		}
	}
	return true
}

func (s *Server) addRoute(w http.ResponseWriter, r *http.Request) {
	var rule routes.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body is not a route rule")
		return
	}
	if !s.admitRoute(w, r, rule) {
		return
	}
	if err := s.routes.Add(rule); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_ROUTE", err.Error())
		return
	}
	s.persistRoutes()
	s.logger.Info().Str("tool_id", rule.ToolID).Msg("admin.route_added")
	responders.JSON(w, http.StatusCreated, rule)
}

func (s *Server) replaceRoute(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")

	var rule routes.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body is not a route rule")
		return
	}
	if !s.admitRoute(w, r, rule) {
		return
	}
	if err := s.routes.Replace(toolID, rule); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_ROUTE", err.Error())
		return
	}
	s.persistRoutes()
	s.logger.Info().Str("tool_id", toolID).Msg("admin.route_replaced")
	responders.JSON(w, http.StatusOK, rule)
}

func (s *Server) removeRoute(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")
	if err := s.routes.Remove(toolID); err != nil {
		responders.Error(w, http.StatusNotFound, "ROUTE_NOT_FOUND", err.Error())
		return
	}
	s.persistRoutes()
	s.logger.Info().Str("tool_id", toolID).Msg("admin.route_removed")
	responders.JSON(w, http.StatusOK, map[string]string{"removed": toolID})
}

// persistRoutes rewrites the routes file after a mutation. Persistence
// is best-effort: a write failure leaves the in-memory table live and is
// logged for the operator.
func (s *Server) persistRoutes() {
	if s.cfg.Routes.File == "" {
		return
	}
	if err := routes.SaveFile(s.cfg.Routes.File, s.routes.Snapshot().Rules()); err != nil {
		s.logger.Error().Err(err).Msg("admin.routes_persist_failed")
	}
	if s.metrics != nil {
		s.metrics.RoutesRegistered.Set(float64(s.routes.Snapshot().Len()))
	}
}

func (s *Server) listReceipts(w http.ResponseWriter, r *http.Request) {
	q := receipt.Query{
		ToolID:  r.URL.Query().Get("tool_id"),
		Outcome: receipt.Outcome(r.URL.Query().Get("outcome")),
		Limit:   100,
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"receipts": s.receipts.List(q),
	})
}

func (s *Server) clearReceipts(w http.ResponseWriter, r *http.Request) {
	dropped := s.receipts.Clear()
	s.logger.Info().Int("dropped", dropped).Msg("admin.receipts_cleared")
	responders.JSON(w, http.StatusOK, map[string]int{"cleared": dropped})
}

func (s *Server) receiptStats(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, s.receipts.Stats())
}

func (s *Server) getBlocklist(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{"blocked": s.blocklist.List()})
}

func (s *Server) putBlocklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Blocked []string `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_BODY", "expected {\"blocked\": [\"0x…\"]}")
		return
	}
	s.blocklist.Replace(body.Blocked)
	if s.cfg.Routes.BlocklistFile != "" {
		if err := agentblock.SaveFile(s.cfg.Routes.BlocklistFile, s.blocklist.List()); err != nil {
			s.logger.Error().Err(err).Msg("admin.blocklist_persist_failed")
		}
	}
	s.logger.Info().Int("count", len(s.blocklist.List())).Msg("admin.blocklist_replaced")
	responders.JSON(w, http.StatusOK, map[string]any{"blocked": s.blocklist.List()})
}

func (s *Server) getSpend(w http.ResponseWriter, r *http.Request) {
	mandateID := chi.URLParam(r, "mandateID")
	responders.JSON(w, http.StatusOK, s.spend.Totals(mandateID))
}

// getConfig exposes the running configuration with secrets reduced to
// set/unset markers.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"port":            s.cfg.Server.Port,
		"public_url":      s.cfg.Server.PublicURL,
		"admin_key":       maskSecret(s.cfg.Server.AdminKey),
		"api_key":         maskSecret(s.cfg.Server.APIKey),
		"pay_to_address":  s.cfg.Payment.PayToAddress,
		"network":         s.cfg.Payment.Network,
		"facilitator_url": s.cfg.Payment.FacilitatorURL,
		"routes_file":     s.cfg.Routes.File,
		"blocklist_file":  s.cfg.Routes.BlocklistFile,
		"replay_ttl_ms":   s.replay.TTL().Milliseconds(),
		"anchor_enabled":  s.cfg.Anchor.Enabled,
	})
}

// putConfig updates the knobs that are safe to change on a running
// gateway. Everything else requires a restart.
func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReplayTTLMS *int64 `json:"replay_ttl_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		responders.Error(w, http.StatusBadRequest, "INVALID_BODY", "expected {\"replay_ttl_ms\": N}")
		return
	}
	if body.ReplayTTLMS != nil {
		if *body.ReplayTTLMS <= 0 {
			responders.Error(w, http.StatusBadRequest, "INVALID_BODY", "replay_ttl_ms must be positive")
			return
		}
		ttl := time.Duration(*body.ReplayTTLMS) * time.Millisecond
		s.replay.SetTTL(ttl)
		s.cfg.Replay.TTL.Duration = ttl
		s.logger.Info().Int64("replay_ttl_ms", *body.ReplayTTLMS).Msg("admin.config_updated")
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"replay_ttl_ms": s.replay.TTL().Milliseconds(),
	})
}

func maskSecret(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}
