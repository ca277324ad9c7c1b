// Package server exposes the transmission pipeline over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/sdi-gateway/internal/invoice"
	"github.com/rezonia/sdi-gateway/internal/model"
	"github.com/rezonia/sdi-gateway/internal/sdi"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server represents the HTTP API server
type Server struct {
	config      *Config
	router      *gin.Engine
	coordinator *invoice.Coordinator
	client      *sdi.Client
	logger      *logrus.Logger
}

// NewServer creates a new API server
func NewServer(config *Config, coordinator *invoice.Coordinator, client *sdi.Client, logger *logrus.Logger) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:      config,
		router:      router,
		coordinator: coordinator,
		client:      client,
		logger:      logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		invoices := v1.Group("/invoices")
		{
			invoices.POST("", s.handleCreate)
			invoices.POST("/pipeline", s.handlePipeline)
			invoices.POST("/:id/document", s.handleGenerateDocument)
			invoices.POST("/:id/sign", s.handleSign)
			invoices.POST("/:id/send", s.handleSend)

			invoices.GET("", s.handleList)
			invoices.GET("/:id", s.handleGet)
			invoices.GET("/:id/notifications", s.handleInvoiceNotifications)
			invoices.GET("/number/:number", s.handleGetByNumber)
			invoices.GET("/status/:status", s.handleByStatus)
			invoices.GET("/search", s.handleSearch)

			invoices.DELETE("/:id", s.handleDelete)
		}

		// Notification intake
		v1.POST("/notifications", s.handleNotification)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	hub := "up"
	if !s.client.HealthCheck(c.Request.Context()) {
		status = http.StatusServiceUnavailable
		hub = "down"
	}
	c.JSON(status, gin.H{
		"status": "ok",
		"hub":    hub,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreate(c *gin.Context) {
	var req model.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	inv, err := s.coordinator.Create(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, InvoiceResponse{Invoice: inv})
}

func (s *Server) handlePipeline(c *gin.Context) {
	var req model.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	inv, err := s.coordinator.RunPipeline(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleGenerateDocument(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req model.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	inv, err := s.coordinator.GenerateDocument(c.Request.Context(), id, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleSign(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	inv, err := s.coordinator.Sign(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleSend(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	inv, err := s.coordinator.Send(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.SdiID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "sdi_id is required"})
		return
	}
	kind, ok := model.ParseNotificationKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown notification kind: " + req.Kind})
		return
	}

	inv, err := s.coordinator.Reconcile(c.Request.Context(), req.SdiID, req.FileName, kind, req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	inv, err := s.coordinator.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleGetByNumber(c *gin.Context) {
	inv, err := s.coordinator.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv})
}

func (s *Server) handleList(c *gin.Context) {
	invoices, err := s.coordinator.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceListResponse{Invoices: invoices, Count: len(invoices)})
}

func (s *Server) handleByStatus(c *gin.Context) {
	status, ok := model.ParseStatus(c.Param("status"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status: " + c.Param("status")})
		return
	}

	invoices, err := s.coordinator.ByStatus(c.Request.Context(), status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceListResponse{Invoices: invoices, Count: len(invoices)})
}

func (s *Server) handleSearch(c *gin.Context) {
	from, err := decimal.NewFromString(c.DefaultQuery("from", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from amount"})
		return
	}
	to, err := decimal.NewFromString(c.DefaultQuery("to", "999999999"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to amount"})
		return
	}

	invoices, err := s.coordinator.ByTotalRange(c.Request.Context(), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceListResponse{Invoices: invoices, Count: len(invoices)})
}

func (s *Server) handleInvoiceNotifications(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	// 404 for an unknown invoice rather than an empty list
	if _, err := s.coordinator.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	notifications, err := s.coordinator.Notifications(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NotificationListResponse{Notifications: notifications, Count: len(notifications)})
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	if err := s.coordinator.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice id"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP statuses. The error message is
// always preserved in the body.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		valErr   *model.ValidationError
		nfErr    *model.NotFoundError
		stateErr *model.StateError
	)
	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &nfErr):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		s.logger.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
