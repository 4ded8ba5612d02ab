package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/radiogate/internal/engine"
	"github.com/MrWong99/radiogate/internal/observe"
)

// controlResponse is the body of start and stop replies.
type controlResponse struct {
	Status engine.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, span := observe.StartSpan(r.Context(), "router.start")
	err := a.ctrl.Start(ctx)
	observe.EndSpan(span, err)
	if err != nil {
		observe.WithTrace(ctx, a.log).Warn("start failed", slog.Any("err", err))
	}
	a.reply(w, controlStatus(err), err)
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, span := observe.StartSpan(r.Context(), "router.stop")
	err := a.ctrl.Stop(ctx)
	observe.EndSpan(span, err)
	switch {
	case err == nil:
		a.applyPending()
	case errors.Is(err, engine.ErrNotRunning):
	default:
		// Pause failures still leave the router stopped.
		observe.WithTrace(ctx, a.log).Warn("stop reported errors", slog.Any("err", err))
		if !a.ctrl.Status().Running {
			a.applyPending()
		}
	}
	a.reply(w, controlStatus(err), err)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *App) reply(w http.ResponseWriter, code int, err error) {
	resp := controlResponse{Status: a.ctrl.Status()}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, code, resp)
}

// controlStatus maps a control error to an HTTP status code.
func controlStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPlaybackBlocked):
		// The operator must allow audio in the player before retrying.
		return http.StatusConflict
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
