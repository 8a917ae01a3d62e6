package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brunobiangulo/graphagent/agent"
	"github.com/brunobiangulo/graphagent/stream"
)

// heartbeatInterval keeps idle proxies from closing a chat stream while
// the model is thinking.
var heartbeatInterval = 15 * time.Second

type chatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"max=32768"`
}

type chatRequest struct {
	Message string     `json:"message" validate:"required,max=32768"`
	History []chatTurn `json:"history" validate:"max=100,dive"`
}

// POST /projects/{id}/chat
// Streams the answer as SSE frames. A client disconnect cancels the turn.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	pid := projectID(r)
	if _, err := s.engine.GetProject(pid); err != nil {
		fail(w, r, err)
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		fail(w, r, err)
		return
	}

	history := make(agent.History, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, agent.Turn{Role: agent.Role(t.Role), Content: t.Content})
	}

	ctx, cancel := context.WithCancel(r.Context())
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		heartbeat(ctx, sw)
	}()
	defer func() {
		cancel()
		<-hbDone
	}()

	_, err = s.engine.Chat(ctx, pid, req.Message, history, sw)
	switch {
	case err == nil:
	case r.Context().Err() != nil:
		slog.Info("chat: client disconnected", "project", pid)
	default:
		slog.Warn("chat: turn failed", "project", pid, "error", err)
		if !sw.Done() {
			if serr := sw.Send(context.WithoutCancel(ctx), stream.ErrorFrame(err.Error())); serr != nil && !errors.Is(serr, stream.ErrClosed) {
				slog.Warn("chat: writing error frame", "error", serr)
			}
		}
	}
}

func heartbeat(ctx context.Context, sw *stream.Writer) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if sw.Done() {
				return
			}
			if err := sw.Heartbeat(); err != nil {
				return
			}
		}
	}
}
