package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"live-academy/service"
)

var (
	errInvalidSessionId = errors.New("invalid live session id")
	errMissingIdentity  = errors.New("missing or invalid caller identity")
	errTeacherOnly      = errors.New("only teachers can perform this action")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotAuthorized), errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation), errors.Is(err, errInvalidSessionId):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProvider), errors.Is(err, service.ErrStorage):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
