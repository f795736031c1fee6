package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arb-engine/pkg/types"
)

// Server hosts the ControlPlane over HTTP (request/response RPCs) and
// WebSocket (streaming snapshots/events/heartbeats).
type Server struct {
	cp             ControlPlane
	hub            *Hub
	allowedOrigins []string
	server         *http.Server
	logger         *slog.Logger
}

// NewServer builds the HTTP mux and wraps it in an *http.Server bound to
// addr (e.g. "0.0.0.0:8090"). allowedOrigins restricts WS CORS; an empty
// list falls back to same-origin/localhost.
func NewServer(addr string, cp ControlPlane, hub *Hub, allowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{cp: cp, hub: hub, allowedOrigins: allowedOrigins, logger: logger.With("component", "api_server")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/symbols", s.handleSymbols)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/market/top_spreads", s.handleTopSpreads)
	mux.HandleFunc("/api/trade/selection", s.handleTradeSelection)
	mux.HandleFunc("/api/runtime/order_execution", s.handleOrderExecution)
	mux.HandleFunc("/api/runtime/market_data_mode", s.handleMarketDataMode)
	mux.HandleFunc("/api/engine/start", s.handleEngineStart)
	mux.HandleFunc("/api/engine/stop", s.handleEngineStop)
	mux.HandleFunc("/api/mode", s.handleModeSet)
	mux.HandleFunc("/api/symbol/params", s.handleSymbolParams)
	mux.HandleFunc("/api/symbol/flatten", s.handleSymbolFlatten)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run starts the hub loop and the HTTP listener, blocking until ctx is
// cancelled, then performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cp.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cp.Symbols(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	resp, err := s.cp.Events(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cp.Config(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTopSpreads(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	force := r.URL.Query().Get("force_refresh") == "true"
	resp, err := s.cp.MarketTopSpreads(r.Context(), limit, force)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTradeSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp, err := s.cp.TradeSelectionGet(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, resp)
	case http.MethodPost:
		var req TradeSelection
		if !s.decodeBody(w, r, &req) {
			return
		}
		if err := s.cp.TradeSelectionSet(r.Context(), req.Symbol); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type orderExecutionRequest struct {
	Enabled     bool   `json:"enabled"`
	ConfirmText string `json:"confirm_text"`
}

func (s *Server) handleOrderExecution(w http.ResponseWriter, r *http.Request) {
	var req orderExecutionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cp.RuntimeSetOrderExecution(r.Context(), req.Enabled, req.ConfirmText); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

type marketDataModeRequest struct {
	Simulated bool `json:"simulated"`
}

func (s *Server) handleMarketDataMode(w http.ResponseWriter, r *http.Request) {
	var req marketDataModeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cp.RuntimeSetMarketDataMode(r.Context(), req.Simulated); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cp.EngineStart(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cp.EngineStop(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

type modeSetRequest struct {
	Symbol string             `json:"symbol"`
	Mode   types.StrategyMode `json:"mode"`
}

func (s *Server) handleModeSet(w http.ResponseWriter, r *http.Request) {
	var req modeSetRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cp.ModeSet(r.Context(), req.Symbol, req.Mode); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

type symbolParamsRequest struct {
	Symbol   string               `json:"symbol"`
	Strategy types.StrategyParams `json:"strategy"`
}

func (s *Server) handleSymbolParams(w http.ResponseWriter, r *http.Request) {
	var req symbolParamsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cp.SymbolParamsUpdate(r.Context(), req.Symbol, req.Strategy); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

type symbolFlattenRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleSymbolFlatten(w http.ResponseWriter, r *http.Request) {
	var req symbolFlattenRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cp.SymbolFlatten(r.Context(), req.Symbol); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), s.allowedOrigins, req.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	NewClient(s.hub, conn)
}

func isOriginAllowed(origin string, allowed []string, reqHost string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			u, err := url.Parse(a)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}
	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
