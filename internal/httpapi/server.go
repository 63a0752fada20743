// Package httpapi exposes the brokerage operations as JSON POST endpoints
// under a common path prefix.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokerlink/internal/analysis"
	"brokerlink/internal/apperr"
	"brokerlink/internal/connection"
	"brokerlink/internal/metrics"
	"brokerlink/internal/portfolio"
	"brokerlink/internal/trading"
)

// Server serves the brokerage HTTP API.
type Server struct {
	connections *connection.Manager
	portfolio   *portfolio.Service
	trading     *trading.Service
	analysis    *analysis.Service
	metrics     *metrics.Metrics
	log         *slog.Logger

	prefix      string
	corsOrigins []string
}

// Options configures NewServer.
type Options struct {
	PathPrefix  string   // e.g. /api/snaptrade
	CORSOrigins []string // empty allows any origin

	// Analysis serves /portfolio/*. Nil answers those routes with 503.
	Analysis *analysis.Service
}

// NewServer creates a Server. m may be nil.
func NewServer(
	connections *connection.Manager,
	portfolio *portfolio.Service,
	trading *trading.Service,
	m *metrics.Metrics,
	log *slog.Logger,
	opts Options,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		connections: connections,
		portfolio:   portfolio,
		trading:     trading,
		analysis:    opts.Analysis,
		metrics:     m,
		log:         log,
		prefix:      opts.PathPrefix,
		corsOrigins: opts.CORSOrigins,
	}
}

// RegisterRoutes registers all API routes on the given router.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	g := r.Group(s.prefix)
	g.POST("/connect-broker", s.handleConnectBroker)
	g.POST("/check-broker-connection", s.handleCheckConnection)
	g.POST("/get-connections", s.handleGetConnections)
	g.POST("/get-accounts", s.handleGetAccounts)
	g.POST("/get-account-holdings", s.handleGetHoldings)
	g.POST("/get-transactions", s.handleGetTransactions)
	g.POST("/search-acc-symbols", s.handleSearchSymbols)
	g.POST("/impact", s.handleImpact)
	g.POST("/place-checked-order", s.handlePlaceChecked)
	g.POST("/place-order", s.handlePlaceOrder)
	g.POST("/cancel-order", s.handleCancelOrder)

	p := g.Group("/portfolio")
	p.POST("/score", s.handlePortfolioScore)
	p.POST("/performance-stats", s.handlePerformanceStats)
	p.POST("/assessment", s.handleAssessment)
	p.POST("/insights", s.handleInsights)
	p.GET("/daily-insights", s.handleDailyInsights)
}

// Handler returns the gin engine with recovery, request-id, logging,
// metrics and CORS middleware, the API routes, and GET /metrics.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.accessLog(), s.observe(), cors(s.corsOrigins))

	s.RegisterRoutes(r)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{
			Error: "The requested resource " + c.Request.URL.Path + " was not found",
		})
	})
	return r
}

// bind decodes the JSON body into v. An empty body leaves v zero so the
// handler reports the missing fields; a malformed one is a 400.
func (s *Server) bind(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

// fail maps err to a response. Validation errors and backend 4xx
// classifications carry their own message; anything else gets fallback so
// internal details never leak.
func (s *Server) fail(c *gin.Context, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	msg := apperr.Message(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		msg = fallback
	}
	if msg == "" {
		msg = fallback
	}
	s.logger(c).Log(c.Request.Context(), level, "request failed",
		"route", c.FullPath(), "status", status, "error", err)

	_ = c.Error(err)
	writeError(c, status, msg)
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

func (s *Server) handleConnectBroker(c *gin.Context) {
	var req connectRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.connections.Connect(c.Request.Context(), req.UserID, req.Broker, req.UserSecret)
	if err != nil {
		s.fail(c, err, "An error occurred while connecting to the broker")
		return
	}

	if res.Existing() {
		c.JSON(http.StatusOK, connectResponse{
			Message:    "Existing connection found; refresh triggered for broker " + req.Broker,
			UserSecret: res.UserSecret,
			ConnectionStatus: existingConnection{
				ExistingConnectionID: res.ExistingAuthorizationID,
				Broker:               req.Broker,
				Refresh:              res.Refresh,
			},
		})
		return
	}
	c.JSON(http.StatusOK, connectResponse{
		Message:          "Broker connection initiated",
		UserSecret:       res.UserSecret,
		ConnectionStatus: res.Login,
	})
}

func (s *Server) handleCheckConnection(c *gin.Context) {
	var req checkConnectionRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.connections.CheckConnection(c.Request.Context(), req.toDomain(), req.BrokerID)
	if err != nil {
		s.fail(c, err, "An error occurred while checking broker connection")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetConnections(c *gin.Context) {
	var req identity
	if !s.bind(c, &req) {
		return
	}
	list, err := s.connections.ListConnections(c.Request.Context(), req.toDomain())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching connections")
		return
	}
	c.JSON(http.StatusOK, connectionsResponse{Connections: list})
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

func (s *Server) handleGetAccounts(c *gin.Context) {
	var req identity
	if !s.bind(c, &req) {
		return
	}
	accounts, err := s.portfolio.Accounts(c.Request.Context(), req.toDomain())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching accounts")
		return
	}
	c.JSON(http.StatusOK, accountsResponse{Accounts: accounts})
}

func (s *Server) handleGetHoldings(c *gin.Context) {
	var req accountRequest
	if !s.bind(c, &req) {
		return
	}
	h, err := s.portfolio.Holdings(c.Request.Context(), req.toDomain(), req.AccountID)
	if err != nil {
		s.fail(c, err, "An error occurred while fetching account holdings")
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleGetTransactions(c *gin.Context) {
	var req transactionsRequest
	if !s.bind(c, &req) {
		return
	}
	page, err := s.portfolio.Transactions(c.Request.Context(), req.toDomain(), req.query())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching transactions")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleSearchSymbols(c *gin.Context) {
	var req searchRequest
	if !s.bind(c, &req) {
		return
	}
	symbols, err := s.portfolio.SearchSymbols(c.Request.Context(), req.toDomain(), req.AccountID, req.Substring)
	if err != nil {
		s.fail(c, err, "An error occurred while searching symbols")
		return
	}
	c.JSON(http.StatusOK, symbolsResponse{Symbols: symbols})
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

func (s *Server) handleImpact(c *gin.Context) {
	var req orderRequest
	if !s.bind(c, &req) {
		return
	}
	staged, err := s.trading.CheckImpact(c.Request.Context(), req.toDomain(), req.order(false))
	if err != nil {
		s.fail(c, err, "Failed to check order impact")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order impact fetched successfully", Data: staged})
}

func (s *Server) handlePlaceChecked(c *gin.Context) {
	var req placeCheckedRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.trading.PlaceChecked(c.Request.Context(), req.toDomain(), req.TradeID, req.WaitToConfirm)
	if err != nil {
		s.fail(c, err, "Failed to place checked order")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order placed successfully", Data: out})
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req orderRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.trading.PlaceForce(c.Request.Context(), req.toDomain(), req.order(true))
	if err != nil {
		s.fail(c, err, "Failed to place order")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order placed successfully", Data: out})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req cancelRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.trading.Cancel(c.Request.Context(), req.toDomain(), req.AccountID, req.BrokerageOrderID)
	if err != nil {
		s.fail(c, err, "Failed to cancel order")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order cancellation attempted", Data: out})
}

// ---------------------------------------------------------------------------
// Portfolio analysis
// ---------------------------------------------------------------------------

// analysisReady writes 503 when no analysis service is configured.
func (s *Server) analysisReady(c *gin.Context) bool {
	if s.analysis == nil {
		writeError(c, http.StatusServiceUnavailable, "Portfolio analysis is not configured")
		return false
	}
	return true
}

func (s *Server) handlePortfolioScore(c *gin.Context) {
	var req analysisRequest
	if !s.analysisReady(c) || !s.bind(c, &req) {
		return
	}
	res, err := s.analysis.Score(c.Request.Context(), req.portfolio())
	if err != nil {
		s.fail(c, err, "An error occurred while scoring the portfolio")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePerformanceStats(c *gin.Context) {
	var req analysisRequest
	if !s.analysisReady(c) || !s.bind(c, &req) {
		return
	}
	res, err := s.analysis.PerformanceStats(c.Request.Context(), req.portfolio())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching portfolio performance")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAssessment(c *gin.Context) {
	var req analysisRequest
	if !s.analysisReady(c) || !s.bind(c, &req) {
		return
	}
	res, err := s.analysis.Assessment(c.Request.Context(), req.portfolio(), req.TargetRisk)
	if err != nil {
		s.fail(c, err, "An error occurred while assessing the portfolio")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleInsights(c *gin.Context) {
	var req analysisRequest
	if !s.analysisReady(c) || !s.bind(c, &req) {
		return
	}
	res, err := s.analysis.Insights(c.Request.Context(), req.portfolio())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching portfolio insights")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDailyInsights(c *gin.Context) {
	if !s.analysisReady(c) {
		return
	}
	res, err := s.analysis.DailyInsights(c.Request.Context())
	if err != nil {
		s.fail(c, err, "An error occurred while fetching daily insights")
		return
	}
	c.JSON(http.StatusOK, res)
}
