package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/constant"
	"live-academy/dto"
)

const actorKey = "actor"

// requestLogger attaches a request-scoped logger carrying request_id to the
// request context.
func requestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if requestId == "" {
			requestId = uuid.NewString()
		}
		logger := base.With().Str("request_id", requestId).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Header("X-Request-Id", requestId)
		c.Next()
	}
}

// identify reads the caller set by the upstream auth gateway.
func identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := uuid.Parse(strings.TrimSpace(c.GetHeader("X-User-Id")))
		userType := constant.UserType(strings.ToLower(strings.TrimSpace(c.GetHeader("X-User-Type"))))
		if err != nil || !userType.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingIdentity.Error()})
			return
		}
		actor := dto.Actor{
			UserId:      userId,
			UserType:    userType,
			DisplayName: strings.TrimSpace(c.GetHeader("X-User-Name")),
		}
		c.Set(actorKey, actor)

		logger := zerolog.Ctx(c.Request.Context()).With().
			Str("user_id", userId.String()).
			Str("user_type", string(userType)).
			Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

func teacherOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFrom(c).UserType != constant.UserTypeTeacher {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errTeacherOnly.Error()})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) dto.Actor {
	actor, _ := c.Get(actorKey)
	a, _ := actor.(dto.Actor)
	return a
}
