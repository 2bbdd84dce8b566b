package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"thirdeye-service/internal/config"
	"thirdeye-service/internal/domain/violation"
	"thirdeye-service/internal/progress"
	"thirdeye-service/internal/service"
)

type AnalysisService interface {
	CreateSession(ctx context.Context) (*violation.SessionSnapshot, error)
	GetSnapshot(ctx context.Context, sessionID string) (*violation.SessionSnapshot, error)
	StartRun(ctx context.Context, sessionID string, image []byte) (<-chan violation.ProgressEvent, func(), error)
}

type ReportService interface {
	GetReport(ctx context.Context, id string) (*violation.Record, error)
	ListEscalated(ctx context.Context, limit, offset int) ([]violation.EscalatedRecord, error)
}

type Handler struct {
	analysis AnalysisService
	reports  ReportService
	config   *config.Config
	log      zerolog.Logger
}

func NewHandler(
	analysis AnalysisService,
	reports ReportService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		analysis: analysis,
		reports:  reports,
		config:   cfg,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1/violations")
	{
		public.POST("/sessions", h.createSession)
		public.POST("/analyze", h.analyze)
		public.GET("/sessions/:sessionId", h.getSession)
		public.GET("/reports/:id", h.getReport)
	}

	admin := r.Group("/api/v1/admin")
	admin.Use(authMiddleware)
	{
		admin.GET("/violations/escalated", h.listEscalated)
	}
}

func (h *Handler) createSession(c *gin.Context) {
	snapshot, err := h.analysis.CreateSession(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(snapshot))
}

func (h *Handler) getSession(c *gin.Context) {
	snapshot, err := h.analysis.GetSnapshot(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(snapshot))
}

func (h *Handler) analyze(c *gin.Context) {
	if limit := h.config.HTTP.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	image, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ctx := c.Request.Context()
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		snapshot, err := h.analysis.CreateSession(ctx)
		if err != nil {
			h.handleError(c, err)
			return
		}
		sessionID = snapshot.ID
	}

	events, stop, err := h.analysis.StartRun(ctx, sessionID, image)
	if err != nil {
		h.handleError(c, err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Session-Id", sessionID)
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if err := writeEvent(w, ev); err != nil {
				h.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to write progress event")
				return false
			}
			return true
		case <-ctx.Done():
			h.log.Info().Str("session_id", sessionID).Msg("live stream disconnected")
			return false
		}
	})
}

func (h *Handler) getReport(c *gin.Context) {
	report, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(report))
}

func (h *Handler) listEscalated(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := h.reports.ListEscalated(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrRunInProgress), errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, progress.ErrAlreadySubscribed):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, progress.ErrHubFull):
		c.JSON(http.StatusServiceUnavailable, errorResponse("too many live analyses, retry later"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("file exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errors.New("file is required")
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("file must be an image, got %s", ct)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(image) == 0 {
		return nil, errors.New("file is empty")
	}
	return image, nil
}

func writeEvent(w io.Writer, ev violation.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
