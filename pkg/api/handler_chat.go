package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsleuth/logsleuth/pkg/events"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
	"github.com/logsleuth/logsleuth/pkg/models"
	"github.com/logsleuth/logsleuth/pkg/session"
)

// ChatRequest is the session-creating analysis request body.
type ChatRequest struct {
	Prompt  string `json:"prompt" binding:"required"`
	Project string `json:"project" binding:"required"`
	Env     string `json:"env"`
	Domain  string `json:"domain"`
}

// AnalysisRequest is the one-shot analysis request body.
type AnalysisRequest struct {
	Text    string `json:"text" binding:"required"`
	Project string `json:"project" binding:"required"`
	Env     string `json:"env"`
	Domain  string `json:"domain"`
}

// ChatResponse points the client at its event stream.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"streamUrl"`
}

// CreateChat handles POST /api/chat: validates the request, allocates a
// session, starts the pipeline in the background and returns the stream
// URL.
func (s *Server) CreateChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	run, ok := s.newRun(c, req.Prompt, req.Project, req.Env, req.Domain)
	if !ok {
		return
	}

	sess := s.startRun(run)
	slog.Info("Created analysis session", "session_id", sess.ID, "project", run.Project, "env", run.Env)
	c.JSON(http.StatusOK, ChatResponse{
		SessionID: sess.ID,
		StreamURL: "/api/chat/stream/" + sess.ID,
	})
}

// newRun validates the common request fields and builds the run context.
func (s *Server) newRun(c *gin.Context, text, project, env, domain string) (*models.RunContext, bool) {
	if env == "" {
		env = "prod"
	}
	if _, err := s.store.GetProject(c.Request.Context(), project); err != nil {
		badRequest(c, "unknown project: "+project)
		return nil, false
	}
	if _, err := s.store.GetProjectEnv(c.Request.Context(), project, env); err != nil {
		badRequest(c, "unknown environment "+env+" for project "+project)
		return nil, false
	}

	return &models.RunContext{
		Text:    text,
		Project: project,
		Env:     env,
		Domain:  domain,
	}, true
}

// startRun allocates a session and launches the pipeline on it. The session
// context carries a cache key recorder so the stream response can report
// the last LLM cache key once operations have run.
func (s *Server) startRun(run *models.RunContext) *session.Session {
	sess := s.registry.Create(llmcache.WithKeyRecorder(s.baseCtx))
	run.SessionID = sess.ID
	go s.orch.Run(sess, run)
	return sess
}

// StreamChat handles GET /api/chat/stream/:session_id: attaches as the
// session's single reader and relays events as SSE until the terminal
// event or client disconnect.
func (s *Server) StreamChat(c *gin.Context) {
	sess, ch, err := s.registry.Attach(c.Param("session_id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "SESSION_NOT_FOUND")
		return
	case errors.Is(err, session.ErrBusy):
		errorResponse(c, http.StatusConflict, "SESSION_BUSY")
		return
	case err != nil:
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer sess.Detach()

	if key := llmcache.RecordedKey(sess.Context()); key != "" {
		c.Header("X-LLM-Cache-Key", key)
	}
	s.relay(c, sess, ch)
}

// StreamAnalysis handles POST /stream-analysis: the one-shot variant that
// runs the pipeline and streams its events in the same response. The
// session is not reattachable; closing the response cancels the run.
func (s *Server) StreamAnalysis(c *gin.Context) {
	var req AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	run, ok := s.newRun(c, req.Text, req.Project, req.Env, req.Domain)
	if !ok {
		return
	}

	sess := s.startRun(run)
	_, ch, err := s.registry.Attach(sess.ID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		sess.Detach()
		s.registry.Remove(sess.ID)
	}()

	s.relay(c, sess, ch)
}

// relay writes events from ch to the response as SSE until the stream
// terminates: channel closed after the pipeline's terminal event, session
// context ended (abandonment, removal, timeout), or client disconnect.
func (s *Server) relay(c *gin.Context, sess *session.Session, ch <-chan events.Event) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	sessionDone := sess.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return !ev.Terminal()
		case <-sessionDone:
			// The queue will not be closed anymore. Deliver what the
			// pipeline managed to enqueue, then the synthesized terminal
			// event of an abandoned session.
			if !flushBuffered(c, ch) {
				if ev, ok := sess.FinalEvent(); ok {
					c.SSEvent(ev.Name, ev.Data)
				}
			}
			return false
		case <-clientGone:
			return false
		}
	})
}

// flushBuffered drains the already-queued events without blocking and
// reports whether a terminal event was among them.
func flushBuffered(c *gin.Context, ch <-chan events.Event) bool {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return true
			}
			c.SSEvent(ev.Name, ev.Data)
			if ev.Terminal() {
				return true
			}
		default:
			return false
		}
	}
}
