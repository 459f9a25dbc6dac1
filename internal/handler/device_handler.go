package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// DeviceHandler serves the sync endpoints used by exam devices.
type DeviceHandler struct {
	deviceService  *service.DeviceService
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(deviceService *service.DeviceService, sessionService *service.SessionService, log zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService:  deviceService,
		sessionService: sessionService,
		log:            log.With().Str("component", "device_handler").Logger(),
	}
}

// PushResult godoc
// PUT /api/v1/device/results/:result_id
// Upserts the device's result snapshot and echoes the remote status fields.
func (h *DeviceHandler) PushResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	resultID := c.Param("result_id")
	if _, err := uuid.Parse(resultID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var rec model.ResultRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}
	if rec.ID != resultID {
		response.Fail(c, http.StatusBadRequest, response.ErrResultIDMismatch)
		return
	}

	if err := service.CheckRecord(&rec, claims.CandidateID, claims.SessionID); err != nil {
		if errors.Is(err, service.ErrResultIDMismatch) {
			response.Fail(c, http.StatusForbidden, response.ErrWrongCandidate)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, map[string]string{"detail": err.Error()})
		return
	}

	st, err := h.deviceService.PushResult(c.Request.Context(), &rec)
	if err != nil {
		h.log.Error().Err(err).Str("result_id", resultID).Msg("Push failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, st)
}

// CandidateStatus godoc
// GET /api/v1/device/results/:result_id
func (h *DeviceHandler) CandidateStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	resultID := c.Param("result_id")
	if resultID != model.ResultID(claims.CandidateID, claims.SessionID) {
		response.Fail(c, http.StatusForbidden, response.ErrWrongCandidate)
		return
	}

	st, err := h.deviceService.CandidateStatus(c.Request.Context(), resultID)
	if err != nil {
		if errors.Is(err, service.ErrResultNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrResultNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, st)
}

// SessionStatus godoc
// GET /api/v1/device/sessions/:session_id
func (h *DeviceHandler) SessionStatus(c *gin.Context) {
	rec, err := h.sessionService.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, rec)
}
