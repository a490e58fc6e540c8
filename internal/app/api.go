package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/internal/voicechat"
	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/room"
)

// startTimeout bounds a start request. The start is detached from the HTTP
// request so a client hanging up cannot leave it half done.
const startTimeout = 30 * time.Second

// defaultHistoryLimit is used when GET /api/voice/history has no limit.
const defaultHistoryLimit = 20

// StateView is the JSON form of [voicechat.State].
type StateView struct {
	Status     string `json:"status"`
	RoomName   string `json:"roomName,omitempty"`
	Character  string `json:"character,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Listening  bool   `json:"listening"`
	Recording  bool   `json:"recording"`
	Playing    bool   `json:"playing"`
	Processing bool   `json:"processing"`
	LastError  string `json:"lastError,omitempty"`
}

func viewOf(st voicechat.State) StateView {
	return StateView{
		Status:     st.Status.String(),
		RoomName:   st.RoomName,
		Character:  st.Character,
		SessionID:  st.SessionID,
		Listening:  st.Listening,
		Recording:  st.Recording,
		Playing:    st.Playing,
		Processing: st.Processing,
		LastError:  st.LastError,
	}
}

// HistoryView is the JSON form of [history.Entry].
type HistoryView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Character string    `json:"character"`
	RoomName  string    `json:"roomName,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Seconds   float64   `json:"durationSeconds"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

type startRequest struct {
	Character string `json:"character"`
}

type textRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string     `json:"error"`
	State *StateView `json:"state,omitempty"`
}

func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/voice", a.handleState)
	mux.HandleFunc("POST /api/voice/start", a.handleStart)
	mux.HandleFunc("POST /api/voice/end", a.handleEnd)
	mux.HandleFunc("POST /api/voice/toggle-listening", a.handleToggle)
	mux.HandleFunc("POST /api/voice/text", a.handleText)
	mux.HandleFunc("DELETE /api/voice/error", a.handleClearError)
	mux.HandleFunc("GET /api/voice/events", a.handleEvents)
	mux.HandleFunc("GET /api/voice/history", a.handleHistory)

	mux.HandleFunc("GET /api/stream", a.handleStreamStatus)
	mux.HandleFunc("POST /api/stream/{action}", a.handleStreamAction)
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(a.voice.State()))
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	if req.Character == "" {
		writeError(w, http.StatusBadRequest, errors.New("character is required"), nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startTimeout)
	defer cancel()
	if err := a.voice.StartVoiceChat(ctx, req.Character); err != nil {
		st := viewOf(a.voice.State())
		writeError(w, statusFor(err), err, &st)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a.voice.State()))
}

func (a *App) handleEnd(w http.ResponseWriter, r *http.Request) {
	a.voice.EndVoiceChat(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, viewOf(a.voice.State()))
}

func (a *App) handleToggle(w http.ResponseWriter, r *http.Request) {
	if err := a.voice.ToggleListening(r.Context()); err != nil {
		st := viewOf(a.voice.State())
		writeError(w, statusFor(err), err, &st)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a.voice.State()))
}

func (a *App) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"), nil)
		return
	}
	if err := a.voice.SendText(r.Context(), req.Text); err != nil {
		st := viewOf(a.voice.State())
		writeError(w, statusFor(err), err, &st)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(a.voice.State()))
}

func (a *App) handleClearError(w http.ResponseWriter, _ *http.Request) {
	a.voice.ClearError()
	writeJSON(w, http.StatusOK, viewOf(a.voice.State()))
}

// handleEvents streams state snapshots over a WebSocket, starting with the
// current state.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := a.hub.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := writeState(ctx, conn, a.voice.State()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeState(ctx, conn, st); err != nil {
				slog.Debug("events: write failed", "err", err)
				return
			}
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, st voicechat.State) error {
	data, err := json.Marshal(viewOf(st))
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"), nil)
			return
		}
		limit = n
	}
	entries, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err, nil)
		return
	}
	views := make([]HistoryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, historyView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func historyView(e history.Entry) HistoryView {
	return HistoryView{
		ID:        e.ID,
		SessionID: e.SessionID,
		Character: e.Character,
		RoomName:  e.RoomName,
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
		Seconds:   e.Duration().Seconds(),
		Outcome:   string(e.Outcome),
		Error:     e.Error,
	}
}

func (a *App) handleStreamStatus(w http.ResponseWriter, _ *http.Request) {
	if a.streamer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrStreamUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, a.streamer.Status())
}

func (a *App) handleStreamAction(w http.ResponseWriter, r *http.Request) {
	if a.streamer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrStreamUnavailable, nil)
		return
	}
	switch r.PathValue("action") {
	case "start":
		if err := a.streamer.Start(context.WithoutCancel(r.Context())); err != nil {
			writeError(w, statusFor(err), err, nil)
			return
		}
	case "stop":
		a.streamer.Stop(context.WithoutCancel(r.Context()))
	case "pause":
		a.streamer.Pause()
	case "resume":
		a.streamer.Resume()
	default:
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, a.streamer.Status())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voicechat.ErrSessionActive),
		errors.Is(err, voicechat.ErrNotConnected),
		errors.Is(err, voicechat.ErrSuperseded),
		errors.Is(err, ErrStreamActive):
		return http.StatusConflict
	case errors.Is(err, voicechat.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, credential.ErrCredential),
		errors.Is(err, room.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoSink), errors.Is(err, ErrStreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error, st *StateView) {
	writeJSON(w, status, errorResponse{Error: err.Error(), State: st})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
