// Package api exposes the HTTP control surface for the audio pipeline.
package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicegate/voicegate/internal/auth"
	"github.com/voicegate/voicegate/internal/capture"
	"github.com/voicegate/voicegate/internal/enroll"
	"github.com/voicegate/voicegate/internal/websocket"
	"github.com/voicegate/voicegate/usecase"
)

// Server holds the handler dependencies.
type Server struct {
	pipeline *usecase.PipelineService
	hub      *websocket.Hub
	tokens   *auth.Manager
	logger   *zap.Logger

	mu    sync.Mutex
	clips []enroll.Clip
}

// InitRoutes registers all routes on e.
func InitRoutes(e *echo.Echo, pipeline *usecase.PipelineService, hub *websocket.Hub, tokens *auth.Manager, logger *zap.Logger) {
	s := &Server{
		pipeline: pipeline,
		hub:      hub,
		tokens:   tokens,
		logger:   logger,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicegate",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", s.issueToken)

	protected := v1.Group("", s.requireToken)
	protected.POST("/capture/start", s.startCapture)
	protected.POST("/capture/stop", s.stopCapture)
	protected.POST("/transcription/streaming", s.setStreaming)
	protected.POST("/enrollment/record/start", s.startRecording)
	protected.POST("/enrollment/record/stop", s.stopRecording)
	protected.POST("/enrollment/record/cancel", s.cancelRecording)
	protected.POST("/enrollment/finalize", s.finalizeEnrollment)
	protected.DELETE("/enrollment", s.clearEnrollment)
	protected.POST("/assistant/start", s.startAssistant)
	protected.POST("/assistant/stop", s.stopAssistant)
	protected.GET("/status", s.status)

	e.GET("/ws", s.websocketWithAuth)
}

// requireToken is the bearer-token middleware for the protected group.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "Bearer token is required",
			})
		}
		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Warn("request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired token",
			})
		}
		c.Set("clientID", claims.ClientID)
		return next(c)
	}
}

func (s *Server) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "client_id is required",
		})
	}

	token, expiresAt, err := s.tokens.GenerateToken(req.ClientID)
	if err != nil {
		s.logger.Error("failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate token",
		})
	}
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

func (s *Server) startCapture(c echo.Context) error {
	err := s.pipeline.StartCapture(c.Request().Context())
	if errors.Is(err, capture.ErrAlreadyCapturing) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "already_capturing",
			Message: "Capture is already active",
		})
	}
	if err != nil {
		s.logger.Error("failed to start capture", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "capture_failed",
			Message: "Failed to start capture",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "capture started"})
}

func (s *Server) stopCapture(c echo.Context) error {
	s.pipeline.StopCapture()
	return c.JSON(http.StatusOK, map[string]string{"message": "capture stopped"})
}

func (s *Server) setStreaming(c echo.Context) error {
	var req StreamingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := s.pipeline.SetStreaming(c.Request().Context(), req.Enabled); err != nil {
		s.logger.Error("failed to toggle streaming", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "streaming_failed",
			Message: "Failed to open transcription session",
		})
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) startRecording(c echo.Context) error {
	err := s.pipeline.StartEnrollmentRecording(c.Request().Context())
	if errors.Is(err, enroll.ErrRecordingActive) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "recording_active",
			Message: "A recording is already in progress",
		})
	}
	if err != nil {
		s.logger.Error("failed to start enrollment recording", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "recording_failed",
			Message: "Failed to start recording",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "recording started"})
}

func (s *Server) stopRecording(c echo.Context) error {
	clip, err := s.pipeline.StopEnrollmentRecording()
	if errors.Is(err, enroll.ErrNoRecording) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "no_recording",
			Message: "No recording in progress",
		})
	}
	if err != nil {
		s.logger.Error("failed to stop enrollment recording", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "recording_failed",
			Message: "Failed to stop recording",
		})
	}

	s.mu.Lock()
	s.clips = append(s.clips, clip)
	index := len(s.clips) - 1
	s.mu.Unlock()

	return c.JSON(http.StatusOK, ClipResponse{
		Index:      index,
		Bytes:      len(clip.Data),
		RMS:        clip.RMS,
		DurationMs: clip.Duration.Milliseconds(),
	})
}

func (s *Server) cancelRecording(c echo.Context) error {
	err := s.pipeline.CancelEnrollmentRecording()
	if errors.Is(err, enroll.ErrNoRecording) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "no_recording",
			Message: "No recording in progress",
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "recording_failed",
			Message: "Failed to cancel recording",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "recording cancelled"})
}

func (s *Server) finalizeEnrollment(c echo.Context) error {
	s.mu.Lock()
	clips := s.clips
	s.mu.Unlock()

	err := s.pipeline.FinalizeEnrollment(c.Request().Context(), clips)
	if errors.Is(err, enroll.ErrEnrollmentFailed) {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "enrollment_failed",
			Message: err.Error(),
		})
	}
	if err != nil {
		s.logger.Error("failed to finalize enrollment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "enrollment_failed",
			Message: "Failed to save voice profile",
		})
	}

	s.mu.Lock()
	s.clips = nil
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"message": "enrollment complete"})
}

func (s *Server) clearEnrollment(c echo.Context) error {
	if err := s.pipeline.ClearEnrollment(c.Request().Context()); err != nil {
		s.logger.Error("failed to clear enrollment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "clear_failed",
			Message: "Failed to clear voice profile",
		})
	}
	s.mu.Lock()
	s.clips = nil
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"message": "profile cleared"})
}

func (s *Server) startAssistant(c echo.Context) error {
	if err := s.pipeline.StartAssistant(c.Request().Context()); err != nil {
		s.logger.Error("failed to start assistant", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "assistant_failed",
			Message: "Failed to open conversational session",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "assistant started"})
}

func (s *Server) stopAssistant(c echo.Context) error {
	s.pipeline.StopAssistant()
	return c.JSON(http.StatusOK, map[string]string{"message": "assistant stopped"})
}

func (s *Server) status(c echo.Context) error {
	status := s.pipeline.Status()
	return c.JSON(http.StatusOK, StatusResponse{
		Capturing:      status.Capturing,
		Enrolled:       status.Enrolled,
		Recording:      status.Recording,
		StreamingPhase: status.StreamingPhase.String(),
		Verification: VerificationStatus{
			Status:     status.Verification.Status.String(),
			Confidence: status.Verification.Confidence,
		},
		Assistant: AssistantStatus{
			State:     status.Assistant.State.String(),
			Link:      status.Assistant.Link.String(),
			SessionID: status.Assistant.SessionID,
			Speaking:  status.Assistant.Speaking,
			Listening: status.Assistant.Listening,
			VULevel:   status.Assistant.VULevel,
		},
	})
}

// websocketWithAuth validates the bearer token, then hands the
// connection to the hub.
func (s *Server) websocketWithAuth(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		token = c.QueryParam("token")
	}
	if token == "" {
		s.logger.Warn("websocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "Token is required",
		})
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Warn("websocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired token",
		})
	}

	return websocket.HandleWebSocket(s.hub, c, claims.ClientID, s.logger)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
