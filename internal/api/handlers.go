package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/internal/optimizer"
	"github.com/ledunk1/bot/internal/params"
	"github.com/ledunk1/bot/pkg/types"
	"github.com/ledunk1/bot/pkg/utils"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"clients": s.hub.ClientCount(),
	})
}

// handleSymbols returns the tradable futures symbols.
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.deps.Lister.Symbols(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// handleKlines returns cached candles for a symbol.
func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1h"
	}
	start, end, err := parseDateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.deps.Cache.Get(r.Context(), symbol, interval, start, end)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": interval,
		"candles":  candles,
		"count":    len(candles),
	})
}

// BacktestRequest is the body of POST /api/v1/backtest.
type BacktestRequest struct {
	Symbol   string                `json:"symbol"`
	Interval string                `json:"interval"`
	Start    time.Time             `json:"start"`
	End      time.Time             `json:"end"`
	Strategy *types.StrategyParams `json:"strategyParams,omitempty"`
	Risk     *types.RiskParams     `json:"riskParams,omitempty"`
	Trading  types.TradingParams   `json:"trading"`
}

// handleRunBacktest runs one synchronous backtest. Strategy and risk
// parameters fall back to the persisted per-symbol settings when
// omitted.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Symbol = utils.NormalizeSymbol(req.Symbol)
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Interval == "" {
		req.Interval = "1h"
	}
	if err := req.Trading.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cs, err := s.deps.Store.Load(r.Context(), req.Symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	strategy := cs.Strategy
	if req.Strategy != nil {
		strategy = *req.Strategy
	}
	risk := cs.Risk
	if req.Risk != nil {
		risk = *req.Risk
	}
	if err := strategy.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := risk.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.deps.Cache.Get(r.Context(), req.Symbol, req.Interval, req.Start, req.End)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	series, err := s.deps.Engine.Compute(candles, strategy)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	signals, err := s.deps.Engine.Signals(candles, series, strategy)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	result, err := s.deps.Simulator.Run(candles, signals, req.Trading, risk)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Info("Backtest completed",
		zap.String("symbol", req.Symbol),
		zap.Int("trades", result.Statistics.TotalTrades),
		zap.Float64("return", result.Statistics.TotalReturnPct),
	)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":         req.Symbol,
		"interval":       req.Interval,
		"strategyParams": strategy,
		"riskParams":     risk,
		"result":         result,
	})
}

// OptimizationRequest is the body of POST /api/v1/optimization/start.
type OptimizationRequest struct {
	Symbols    []string            `json:"symbols"`
	Interval   string              `json:"interval"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Ranges     *params.Ranges      `json:"ranges,omitempty"`
	Trading    types.TradingParams `json:"trading"`
	MaxWorkers int                 `json:"maxWorkers"`
	Force      bool                `json:"force"`
}

func (req *OptimizationRequest) toScheduler() optimizer.Request {
	ranges := params.DefaultRanges()
	if req.Ranges != nil {
		ranges = *req.Ranges
	}
	return optimizer.Request{
		Symbols:    req.Symbols,
		Interval:   req.Interval,
		Start:      req.Start,
		End:        req.End,
		Ranges:     ranges,
		Trading:    req.Trading,
		Risk:       optimizer.DefaultRiskDefaults(),
		MaxWorkers: req.MaxWorkers,
		Force:      req.Force,
	}
}

// handleStartOptimization starts a multi-symbol run.
func (s *Server) handleStartOptimization(w http.ResponseWriter, r *http.Request) {
	var req OptimizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Interval == "" {
		req.Interval = "1h"
	}

	id, err := s.deps.Scheduler.Start(r.Context(), req.toScheduler())
	switch {
	case errors.Is(err, optimizer.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, optimizer.ErrNothingToDo):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": "running",
	})
}

// handleEstimate sizes a prospective run without starting it.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req OptimizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ranges := params.DefaultRanges()
	if req.Ranges != nil {
		ranges = *req.Ranges
	}
	estimate, err := s.deps.Scheduler.EstimateRun(req.Symbols, ranges, req.MaxWorkers)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"estimate": estimate,
		"duration": utils.FormatDuration(estimate.EstimatedDuration),
	})
}

// handleActiveStatus reports the most recent run.
func (s *Server) handleActiveStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.deps.Scheduler.ActiveStatus()
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"isRunning": false})
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleRunStatus reports one run by handle.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.deps.Scheduler.Status(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleStopOptimization requests cooperative cancellation.
func (s *Server) handleStopOptimization(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Scheduler.Stop(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": "stopping",
	})
}

// handleListSettings returns every persisted per-symbol configuration.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Store.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"settings": all,
		"count":    len(all),
	})
}

// handleGetSettings returns one symbol's configuration, falling back
// to defaults for unknown symbols.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	cs, err := s.deps.Store.Load(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cs)
}

// handleSaveSettings stores one symbol's configuration.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])

	var cs types.CoinSettings
	if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cs.Symbol = symbol

	if err := cs.Strategy.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cs.Risk.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Store.Save(r.Context(), cs); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cs)
}

// handleScannerStatus reports the live scanner state.
func (s *Server) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"lastScan": s.deps.Scanner.LastScan(),
	})
}

// parseDateRange reads start/end query parameters (RFC3339 or
// YYYY-MM-DD) with a default of the trailing 30 days.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start, end, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
