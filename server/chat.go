package server

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/stream"
)

// ChatRequest is the body of POST /api/v1/chatbot.
type ChatRequest struct {
	Message      string `json:"message"`
	CheckpointID string `json:"checkpoint_id"`
}

func (s *Server) chatGet(c echo.Context) error {
	checkpointID := c.QueryParam("checkpoint_id")
	if checkpointID == "" {
		checkpointID = engine.NullThreadID
	}

	message := c.Param("message")

	// echo routes on the raw path when the request has one, leaving the segment escaped.
	if c.Request().URL.RawPath != "" {
		unescaped, err := url.PathUnescape(message)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid message")
		}
		message = unescaped
	}

	return s.streamChat(c, ChatRequest{Message: message, CheckpointID: checkpointID})
}

func (s *Server) chatPost(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	return s.streamChat(c, req)
}

// streamChat starts the turn before writing any byte so rejected turns get a
// regular error status; afterwards failures travel inside the stream.
func (s *Server) streamChat(c echo.Context, req ChatRequest) error {
	ctx := c.Request().Context()

	threadID, events, err := s.chat.Chat(ctx, req.CheckpointID, req.Message)
	if err != nil {
		return httpError(err)
	}

	stream.SetHeaders(c.Response().Header())
	c.Response().WriteHeader(http.StatusOK)

	if err := stream.NewWriter(c.Response()).WriteAll(ctx, events); err != nil {
		s.logger.Warn("server.chat.stream_aborted", "thread_id", threadID, "error", err)
	}

	return nil
}
