package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/service"
)

// ChatFeed upgrades a request to the websocket chat feed of a session.
type ChatFeed interface {
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionId, userId uuid.UUID) error
}

type Router struct {
	Sessions   service.LiveSessionService
	Recordings service.RecordingService
	Feed       ChatFeed
	Logger     zerolog.Logger
}

type api struct {
	sessions   service.LiveSessionService
	recordings service.RecordingService
	feed       ChatFeed
}

func NewRouter(r Router) *gin.Engine {
	engine := gin.Default()
	engine.Use(requestLogger(r.Logger))
	addHealth(engine)

	a := &api{sessions: r.Sessions, recordings: r.Recordings, feed: r.Feed}
	v1 := engine.Group("/api/v1", identify())

	sessions := v1.Group("/live-sessions")
	sessions.POST("", teacherOnly(), a.createSession)
	sessions.GET("/:id", a.getSession)
	sessions.POST("/:id/start", teacherOnly(), a.sessionAction(a.sessions.Start))
	sessions.POST("/:id/end", teacherOnly(), a.sessionAction(a.sessions.End))
	sessions.POST("/:id/cancel", teacherOnly(), a.sessionAction(a.sessions.Cancel))
	sessions.POST("/:id/join", a.join)
	sessions.POST("/:id/leave", a.participantAction(a.sessions.Leave))
	sessions.POST("/:id/mute", a.participantAction(a.sessions.ToggleMute))
	sessions.POST("/:id/video", a.participantAction(a.sessions.ToggleVideo))
	sessions.POST("/:id/hand", a.participantAction(a.sessions.ToggleHandRaise))
	sessions.POST("/:id/chat", a.postChat)
	sessions.POST("/:id/chat/read", a.markChatRead)
	sessions.GET("/:id/ws", a.chatFeed)

	recording := sessions.Group("/:id/recording", teacherOnly())
	recording.POST("/start", a.sessionAction(a.recordings.StartRecording))
	recording.POST("/pause", a.sessionAction(a.recordings.PauseRecording))
	recording.POST("/resume", a.sessionAction(a.recordings.ResumeRecording))
	recording.POST("/stop", a.sessionAction(a.recordings.StopRecording))
	recording.POST("/upload", a.uploadRecording)

	v1.GET("/recordings", a.listRecordings)
	return engine
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

func sessionId(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errInvalidSessionId)
		return uuid.Nil, false
	}
	return id, true
}

func (a *api) sessionAction(action func(context.Context, dto.Actor, uuid.UUID) (*entities.LiveSession, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionId(c)
		if !ok {
			return
		}
		session, err := action(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func (a *api) participantAction(action func(context.Context, dto.Actor, uuid.UUID) (*entities.Participant, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionId(c)
		if !ok {
			return
		}
		participant, err := action(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, participant)
	}
}

func (a *api) createSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", service.ErrValidation, err))
		return
	}
	session, err := a.sessions.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (a *api) getSession(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	detail, err := a.sessions.GetSession(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (a *api) join(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	resp, err := a.sessions.Join(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) postChat(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	var req dto.PostChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", service.ErrValidation, err))
		return
	}
	message, err := a.sessions.PostChatMessage(c.Request.Context(), actorFrom(c), id, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (a *api) markChatRead(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	marked, err := a.sessions.MarkChatRead(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MarkReadResponse{Marked: marked})
}

func (a *api) uploadRecording(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, fmt.Errorf("%w: multipart field \"file\" is required", service.ErrValidation))
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	session, err := a.recordings.UploadClientRecording(c.Request.Context(), actorFrom(c), id, header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *api) listRecordings(c *gin.Context) {
	var filter dto.RecordingFilter
	var err error
	if filter.LiveSessionId, err = optionalUUID(c, "liveSessionId"); err != nil {
		respondError(c, err)
		return
	}
	if filter.ClassId, err = optionalUUID(c, "classId"); err != nil {
		respondError(c, err)
		return
	}
	if filter.TeacherId, err = optionalUUID(c, "teacherId"); err != nil {
		respondError(c, err)
		return
	}
	if filter.SubjectId, err = optionalUUID(c, "subjectId"); err != nil {
		respondError(c, err)
		return
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	list, err := a.sessions.ListRecordings(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func optionalUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a uuid", service.ErrValidation, name)
	}
	return &id, nil
}

// chatFeed checks access the same way GetSession does before upgrading.
func (a *api) chatFeed(c *gin.Context) {
	id, ok := sessionId(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	if _, err := a.sessions.GetSession(c.Request.Context(), actor, id); err != nil {
		respondError(c, err)
		return
	}
	if err := a.feed.Serve(c.Request.Context(), c.Writer, c.Request, id, actor.UserId); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("live_session_id", id.String()).Msg("chat feed closed")
	}
}
