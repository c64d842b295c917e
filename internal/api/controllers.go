package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"risk-desk/internal/engine"
	"risk-desk/internal/extremum"
	"risk-desk/internal/gateway"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/i18n"
)

// maxWait caps the ?wait= parameter.
const maxWait = 25 * time.Second

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// requestLang picks ?lang= first, then Accept-Language.
func requestLang(c *gin.Context) i18n.Language {
	if q := c.Query("lang"); q != "" {
		return i18n.ParseLanguage(q)
	}
	return i18n.ParseLanguage(c.GetHeader("Accept-Language"))
}

// respondEngineError maps engine and series errors onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	msg := i18n.For(requestLang(c))
	switch {
	case errors.Is(err, series.ErrInvalidKey):
		respondError(c, http.StatusBadRequest, "INVALID_KEY", err.Error())
	case errors.Is(err, gateway.ErrUnknownExchange), errors.Is(err, gateway.ErrExchangeDisabled):
		respondError(c, http.StatusNotFound, "UNKNOWN_EXCHANGE", msg.UnknownExchange)
	case errors.Is(err, gateway.ErrGatewayUnhealthy), errors.Is(err, gateway.ErrPoolFull):
		respondError(c, http.StatusServiceUnavailable, "EXCHANGE_UNAVAILABLE", err.Error())
	case errors.Is(err, series.ErrKeyNotSubscribed):
		respondError(c, http.StatusNotFound, "SERIES_NOT_FOUND", msg.SeriesNotFound)
	case errors.Is(err, series.ErrNotReady):
		respondError(c, http.StatusConflict, "SERIES_NOT_READY", msg.SeriesNotReady)
	case errors.Is(err, engine.ErrReadyTimeout), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "SERIES_NOT_READY", msg.SeriesNotReady)
	case errors.Is(err, engine.ErrNoStopReference):
		respondError(c, http.StatusUnprocessableEntity, "NO_STOP_REFERENCE", msg.PlanNoStopReference)
	case errors.Is(err, engine.ErrUnknownProfile), errors.Is(err, engine.ErrInvalidPlanInput):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, context.Canceled):
		respondError(c, http.StatusRequestTimeout, "CANCELED", err.Error())
	default:
		s.Log.Error("engine error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func keyFromPath(c *gin.Context) (series.Key, error) {
	k := series.Key{
		Exchange:  strings.ToLower(c.Param("exchange")),
		Symbol:    strings.ToUpper(c.Param("symbol")),
		Timeframe: c.Param("timeframe"),
	}
	return k, k.Validate()
}

// parseWait reads ?wait= as a duration ("5s") or milliseconds.
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		ms, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil || ms < 0 {
			return 0, err
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

// seriesView is the JSON shape of a series response. Candles is trimmed
// to the newest ?limit= entries.
type seriesView struct {
	Key        string          `json:"key"`
	Phase      string          `json:"phase"`
	Generation uint64          `json:"generation"`
	Length     int             `json:"length"`
	Exhausted  bool            `json:"exhausted"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Candles    []common.Candle `json:"candles"`
}

func viewOf(snap *series.Snapshot, limit int) seriesView {
	candles := snap.Candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	if candles == nil {
		candles = []common.Candle{}
	}
	return seriesView{
		Key:        snap.Key.String(),
		Phase:      snap.Phase.String(),
		Generation: snap.Generation,
		Length:     len(snap.Candles),
		Exhausted:  snap.Exhausted,
		UpdatedAt:  snap.UpdatedAt,
		Candles:    candles,
	}
}

// getSeries subscribes on first use and returns the snapshot. With ?wait=
// it blocks until READY; an UNINITIALIZED series answers 202.
func (s *Server) getSeries(c *gin.Context) {
	key, err := keyFromPath(c)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a duration or milliseconds")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	var snap *series.Snapshot
	if wait > 0 {
		snap, err = s.Engine.WaitReady(c.Request.Context(), key, wait)
		if errors.Is(err, engine.ErrReadyTimeout) {
			err = nil
		}
	} else {
		snap, err = s.Engine.Watch(c.Request.Context(), key)
	}
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	status := http.StatusOK
	if snap.Phase != series.Ready {
		status = http.StatusAccepted
	}
	c.JSON(status, viewOf(snap, limit))
}

// listSeries returns the keys pinned through the API.
func (s *Server) listSeries(c *gin.Context) {
	keys := s.Engine.Watched()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	c.JSON(http.StatusOK, gin.H{"series": out})
}

// loadMore prepends one older page.
func (s *Server) loadMore(c *gin.Context) {
	key, err := keyFromPath(c)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	before, err := s.Engine.Series(key)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	snap, err := s.Engine.LoadMore(c.Request.Context(), key)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, gin.H{
		"added":  snap.Len() - before.Len(),
		"series": viewOf(snap, limit),
	})
}

func (s *Server) resetSeries(c *gin.Context) {
	key, err := keyFromPath(c)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if err := s.Engine.Reset(key); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"key": key.String(), "status": "resetting"})
}

func (s *Server) releaseSeries(c *gin.Context) {
	key, err := keyFromPath(c)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	if err := s.Engine.Release(key); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key.String(), "status": "released"})
}

// getStop returns the extremum-derived stop reference for ?side=.
func (s *Server) getStop(c *gin.Context) {
	key, err := keyFromPath(c)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	side, err := extremum.ParseTradeSide(strings.ToLower(c.DefaultQuery("side", "long")))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	ref, err := s.Engine.StopReference(key, side)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key.String(), "side": side, "stop_reference": ref})
}

type planRequest struct {
	Exchange  string           `json:"exchange" binding:"required"`
	Symbol    string           `json:"symbol" binding:"required"`
	Timeframe string           `json:"timeframe" binding:"required"`
	Side      string           `json:"side" binding:"required"`
	StopPrice *float64         `json:"stop_price"`
	Balance   *float64         `json:"balance"`
	Profile   string           `json:"profile"`
	Config    *risk.RiskConfig `json:"config"`
	WaitMs    int64            `json:"wait_ms"`
}

// createPlan computes a position plan. Calculation failures answer 422
// with the plan and its structured error.
func (s *Server) createPlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	lang := requestLang(c)
	side, err := extremum.ParseTradeSide(strings.ToLower(req.Side))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SIDE", i18n.GetIn(lang, "PlanBadSide"))
		return
	}
	wait := time.Duration(req.WaitMs) * time.Millisecond
	if wait > maxWait {
		wait = maxWait
	}

	res, err := s.Engine.Plan(c.Request.Context(), engine.PlanRequest{
		Key: series.Key{
			Exchange:  strings.ToLower(req.Exchange),
			Symbol:    strings.ToUpper(req.Symbol),
			Timeframe: req.Timeframe,
		},
		Side:      side,
		StopPrice: req.StopPrice,
		Balance:   req.Balance,
		Profile:   req.Profile,
		Config:    req.Config,
		Lang:      lang,
		Wait:      wait,
	})
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	status := http.StatusOK
	if res.Plan.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (s *Server) getProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.Engine.Profiles()})
}

// getSystemStatus exposes series phases, adapter pool and metrics.
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}
