package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/kamihatanoadoresu/english-conversation/internal/controller"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
)

// statusOf maps controller errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, controller.ErrTurnFailed):
		// A provider that sent back a broken WAV is still a gateway failure.
		return http.StatusBadGateway
	case errors.Is(err, voice.ErrCaptureEmpty):
		return http.StatusNoContent
	case errors.Is(err, controller.ErrInvalid),
		errors.Is(err, controller.ErrWrongMode),
		errors.Is(err, audio.ErrInvalidWAV):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrBusy),
		errors.Is(err, controller.ErrPaused),
		errors.Is(err, controller.ErrNoMode),
		errors.Is(err, controller.ErrNotStarted),
		errors.Is(err, controller.ErrNoProblem),
		errors.Is(err, controller.ErrAnswerPending):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage is the error text sent to the client. Provider errors stay
// in the logs; the learner sees the turn's warnings instead.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, controller.ErrTurnFailed):
		return "turn failed"
	case statusOf(err) == http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}
