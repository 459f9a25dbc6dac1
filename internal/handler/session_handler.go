package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// SessionHandler serves the proctor actions on a session.
type SessionHandler struct {
	sessionService *service.SessionService
	deviceService  *service.DeviceService
	authService    *service.AuthService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.SessionService,
	deviceService *service.DeviceService,
	authService *service.AuthService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		deviceService:  deviceService,
		authService:    authService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// SetStatus godoc
// POST /api/v1/proctor/sessions/:session_id/status
func (h *SessionHandler) SetStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	var req model.SessionStatusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rec, err := h.sessionService.SetStatus(c.Request.Context(), c.Param("session_id"), req.Status, claims.ProctorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// End godoc
// POST /api/v1/proctor/sessions/:session_id/end
func (h *SessionHandler) End(c *gin.Context) {
	claims := middleware.GetClaims(c)
	rec, err := h.sessionService.End(c.Request.Context(), c.Param("session_id"), claims.ProctorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// Announce godoc
// POST /api/v1/proctor/sessions/:session_id/announcement
func (h *SessionHandler) Announce(c *gin.Context) {
	claims := middleware.GetClaims(c)
	var req model.AnnouncementRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rec, err := h.sessionService.Announce(c.Request.Context(), c.Param("session_id"), req.Text, claims.ProctorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// GrantExtraTime godoc
// POST /api/v1/proctor/sessions/:session_id/candidates/:candidate_id/extra-time
// Adds minutes; the response carries the new total.
func (h *SessionHandler) GrantExtraTime(c *gin.Context) {
	var req model.ExtraTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.sessionService.GrantExtraTime(c.Request.Context(), c.Param("session_id"), c.Param("candidate_id"), req.Minutes)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

// Block godoc
// POST /api/v1/proctor/sessions/:session_id/candidates/:candidate_id/block
func (h *SessionHandler) Block(c *gin.Context) {
	var req model.BlockRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	st, err := h.sessionService.Block(c.Request.Context(), c.Param("session_id"), c.Param("candidate_id"), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

// IssueDeviceToken godoc
// POST /api/v1/proctor/sessions/:session_id/device-tokens
func (h *SessionHandler) IssueDeviceToken(c *gin.Context) {
	claims := middleware.GetClaims(c)
	var req model.DeviceTokenRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	tok, err := h.authService.GenerateDeviceToken(claims.ProctorID, c.Param("session_id"), req.CandidateID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().
		Int("proctor_id", claims.ProctorID).
		Str("session_id", tok.SessionID).
		Str("candidate_id", tok.CandidateID).
		Msg("Device token issued")

	response.Success(c, http.StatusCreated, tok)
}

// ListResults godoc
// GET /api/v1/proctor/sessions/:session_id/results
func (h *SessionHandler) ListResults(c *gin.Context) {
	results, err := h.sessionService.ListResults(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// GetResult godoc
// GET /api/v1/proctor/sessions/:session_id/candidates/:candidate_id/result
// Returns the newest record, including snapshots not yet stored.
func (h *SessionHandler) GetResult(c *gin.Context) {
	id := model.ResultID(c.Param("candidate_id"), c.Param("session_id"))
	rec, err := h.deviceService.LatestRecord(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrResultNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrResultNotFound)
	case errors.Is(err, service.ErrSessionEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, service.ErrCandidateFinished):
		response.Fail(c, http.StatusConflict, response.ErrCandidateFinished)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Proctor action failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
