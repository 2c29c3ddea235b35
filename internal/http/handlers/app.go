package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/pipeline"
)

// Tasks runs work after the response has been written.
type Tasks interface {
	Submit(name string, task func(ctx context.Context)) error
}

type App struct {
	Store   domain.Store
	Runner  pipeline.Runner
	Gateway *pipeline.Gateway
	Signer  *pipeline.CallbackSigner
	Tasks   Tasks
	Logger  zerolog.Logger

	validate *validator.Validate
}

// NewApp bundles the handler dependencies.
func NewApp(store domain.Store, runner pipeline.Runner, gateway *pipeline.Gateway, signer *pipeline.CallbackSigner, tasks Tasks, logger zerolog.Logger) *App {
	return &App{
		Store:    store,
		Runner:   runner,
		Gateway:  gateway,
		Signer:   signer,
		Tasks:    tasks,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// fail maps a domain error onto an HTTP response.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrJobBusy), errors.Is(err, domain.ErrResumeLimitExceeded), errors.Is(err, domain.ErrDuplicateOperation):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fe.Field() + " failed " + fe.Tag() + "=" + fe.Param()
	}
	return fe.Field() + " failed " + fe.Tag()
}
