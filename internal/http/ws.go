package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"medisim/internal/core"
)

// handleChatSocket carries the question/answer exchange over a websocket.
// Each {"text": ...} frame is answered with the same JSON as the questions
// endpoint, or {"error": ...} for rejected questions.  The socket closes
// when the simulation ends.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "session_id", sess.ID(), "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "simulation ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "session_id", sess.ID(), "error", closeErr)
		}
	}()

	ctx := r.Context()
	slog.Info("chat socket opened", "session_id", sess.ID())
	for {
		var req questionRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("chat socket closed by client", "session_id", sess.ID())
			} else {
				slog.Warn("chat socket read error", "session_id", sess.ID(), "error", err)
			}
			return
		}

		resp, err := ask(ctx, sess, req.Text)
		if err != nil {
			if werr := wsjson.Write(ctx, ws, map[string]string{"error": err.Error()}); werr != nil {
				slog.Debug("failed to send chat error", "session_id", sess.ID(), "error", werr)
				return
			}
			if errors.Is(err, core.ErrSessionClosed) {
				return
			}
			continue
		}
		if err := wsjson.Write(ctx, ws, resp); err != nil {
			slog.Warn("chat socket write error", "session_id", sess.ID(), "error", err)
			return
		}
	}
}
