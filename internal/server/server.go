// Package server exposes charting and backtesting over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amirphl/rule-backtester/internal/backtest"
	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/db"
	"github.com/amirphl/rule-backtester/internal/errs"
	"github.com/amirphl/rule-backtester/internal/indicator"
	"github.com/amirphl/rule-backtester/internal/strategy"
	"github.com/amirphl/rule-backtester/internal/tfutils"
)

// Options holds request defaults.
type Options struct {
	DefaultTicker    string
	DefaultTimeframe string
	RunsLimit        int
}

type Server struct {
	source candle.Source
	runner *backtest.Runner
	runs   db.RunStore
	logger *zap.Logger
	opts   Options
	engine *gin.Engine
}

// New builds the router. runs may be nil, in which case the run endpoints
// answer 404.
func New(source candle.Source, runner *backtest.Runner, runs db.RunStore, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultTimeframe == "" {
		opts.DefaultTimeframe = "1d"
	}
	if opts.RunsLimit <= 0 {
		opts.RunsLimit = 50
	}
	s := &Server{
		source: source,
		runner: runner,
		runs:   runs,
		logger: logger,
		opts:   opts,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.setupHTTPRoutes(r)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server.Run | starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Server.Run | shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) setupHTTPRoutes(r *gin.Engine) {
	r.GET("/", s.handleRoot)
	r.POST("/custom_backtest", s.handleCustomBacktest)

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealthCheck)
		api.GET("/indicators", s.handleIndicators)
		api.GET("/default_chart", s.handleDefaultChart)
		api.POST("/apply_indicators", s.handleApplyIndicators)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Server | request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// fail maps err onto a status code and writes {"detail": message}.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsInput(err):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		// client went away
		status = 499
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" | failed", zap.Error(err))
	} else {
		s.logger.Info(op+" | rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Backend online"})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleIndicators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"indicators": indicator.Types(), "presets": strategy.PresetNames()})
}

// table loads ticker at timeframe and applies specs to it.
func (s *Server) table(ctx context.Context, ticker, timeframe string, specs []indicator.Spec) (*candle.Table, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		ticker = s.opts.DefaultTicker
	}
	if ticker == "" {
		return nil, errs.Input("missing 'ticker'")
	}
	if timeframe == "" {
		timeframe = s.opts.DefaultTimeframe
	}
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, errs.Input("unsupported timeframe %q", timeframe)
	}
	candles, err := s.source.Candles(ctx, ticker, tfutils.Canonical(timeframe))
	if err != nil {
		return nil, err
	}
	t, err := candle.NewTable(candles)
	if err != nil {
		return nil, err
	}
	if _, err := indicator.Apply(t, specs...); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Server) handleDefaultChart(c *gin.Context) {
	t, err := s.table(c.Request.Context(), c.Query("ticker"), c.Query("timeframe"), nil)
	if err != nil {
		s.fail(c, "Server.handleDefaultChart", err)
		return
	}
	c.JSON(http.StatusOK, t.Rows())
}

type indicatorsRequest struct {
	Ticker     string           `json:"ticker"`
	Timeframe  string           `json:"timeframe"`
	Indicators []indicator.Spec `json:"indicators"`
}

func (s *Server) handleApplyIndicators(c *gin.Context) {
	var req indicatorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "Server.handleApplyIndicators", errs.Input("invalid request body: %v", err))
		return
	}
	t, err := s.table(c.Request.Context(), req.Ticker, req.Timeframe, req.Indicators)
	if err != nil {
		s.fail(c, "Server.handleApplyIndicators", err)
		return
	}
	c.JSON(http.StatusOK, t.Rows())
}

// backtestRequest carries either a prepared table or what is needed to build
// one.
type backtestRequest struct {
	BacktestParams    *backtest.Request `json:"backtestParams"`
	PreparedDataframe []candle.Row      `json:"preparedDataframe"`
	Ticker            string            `json:"ticker"`
	Timeframe         string            `json:"timeframe"`
	Indicators        []indicator.Spec  `json:"indicators"`
}

func (s *Server) handleCustomBacktest(c *gin.Context) {
	const op = "Server.handleCustomBacktest"
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, op, errs.Input("invalid request body: %v", err))
		return
	}
	if req.BacktestParams == nil {
		s.fail(c, op, errs.Input("missing 'backtestParams'"))
		return
	}

	var (
		t   *candle.Table
		err error
	)
	switch {
	case len(req.PreparedDataframe) > 0:
		t, err = candle.TableFromRows(req.PreparedDataframe)
	case req.Ticker != "":
		t, err = s.table(c.Request.Context(), req.Ticker, req.Timeframe, req.Indicators)
	default:
		err = errs.Input("Prepared DataFrame is empty. Please prepare data before backtesting.")
	}
	if err != nil {
		s.fail(c, op, err)
		return
	}

	params := *req.BacktestParams
	if params.Ticker == "" {
		params.Ticker = strings.ToUpper(req.Ticker)
	}
	if params.Freq == "" && req.Timeframe != "" && tfutils.IsValidTimeframe(req.Timeframe) {
		params.Freq = tfutils.Canonical(req.Timeframe)
	}
	res, err := s.runner.Run(c.Request.Context(), t, params)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":          res.RunID,
		"status":          res.Status,
		"dataframe":       res.Table.Rows(),
		"backtest_result": res.Rows,
		"markers":         res.Markers,
		"summary":         res.Summary,
		"open_positions":  res.Open,
	})
}

// runView is the JSON form of a stored run.
type runView struct {
	ID        string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Ticker    string             `json:"ticker"`
	Timeframe string             `json:"timeframe"`
	Status    string             `json:"status"`
	Params    json.RawMessage    `json:"params,omitempty"`
	Summary   map[string]float64 `json:"summary"`
	Trades    []tradeView        `json:"trades,omitempty"`
}

type tradeView struct {
	Side             string    `json:"side"`
	EntryTime        time.Time `json:"entry_time"`
	EntryPrice       float64   `json:"entry_price"`
	ExitTime         time.Time `json:"exit_time"`
	ExitPrice        float64   `json:"exit_price"`
	PercentageChange float64   `json:"perc_chg"`
	Result           string    `json:"result"`
	PnL              float64   `json:"pnl"`
	AccountSizeQuote float64   `json:"account_size_quote"`
}

func newRunView(r db.Run, withTrades bool) runView {
	v := runView{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Ticker:    r.Ticker,
		Timeframe: r.Timeframe,
		Status:    r.Status,
		Summary:   r.Summary,
	}
	if json.Valid(r.Params) {
		v.Params = json.RawMessage(r.Params)
	}
	if !withTrades {
		return v
	}
	v.Trades = make([]tradeView, len(r.Trades))
	for i, t := range r.Trades {
		v.Trades[i] = tradeView{
			Side:             t.Side,
			EntryTime:        t.EntryTime,
			EntryPrice:       t.EntryPrice,
			ExitTime:         t.ExitTime,
			ExitPrice:        t.ExitPrice,
			PercentageChange: t.PercentageChange,
			Result:           t.Result,
			PnL:              t.PnL,
			AccountSizeQuote: t.AccountSizeQuote,
		}
	}
	return v
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		s.fail(c, "Server.handleGetRun", db.ErrNotFound)
		return
	}
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "Server.handleGetRun", err)
		return
	}
	c.JSON(http.StatusOK, newRunView(*run, true))
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []runView{}})
		return
	}
	limit := s.opts.RunsLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.fail(c, "Server.handleListRuns", errs.Input("'limit' must be a positive integer"))
			return
		}
		limit = min(n, s.opts.RunsLimit)
	}
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "Server.handleListRuns", err)
		return
	}
	views := make([]runView, len(runs))
	for i, r := range runs {
		views[i] = newRunView(r, false)
	}
	c.JSON(http.StatusOK, gin.H{"runs": views})
}
