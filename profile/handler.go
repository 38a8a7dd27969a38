package profile

import (
	"errors"
	"net/http"
	"strings"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/endpoint"
	"github.com/asvalue/asvalue-auth/middleware"
	"github.com/go-playground/validator/v10"
)

// Handler serves the signed-in user's profile API:
//
//	GET   /api/profile
//	PATCH /api/profile
//	POST  /api/onboarding/complete
//	GET   /api/activity
//
// Every route requires a session.
type Handler struct {
	mux      *http.ServeMux
	profiles *Service
	audit    *audit.Logger
}

// NewHandler returns a Handler. sessions must be a required (not optional)
// session processor; further processors run before it.
func NewHandler(profiles *Service, auditLog *audit.Logger, sessions *middleware.SessionProcessor, processors ...endpoint.Processor) *Handler {
	h := &Handler{mux: http.NewServeMux(), profiles: profiles, audit: auditLog}
	procs := append(append([]endpoint.Processor{}, processors...), sessions)

	h.mux.HandleFunc("GET /api/profile", endpoint.HandleFunc(h.get, procs...))
	h.mux.HandleFunc("PATCH /api/profile", endpoint.HandleFunc(h.update, procs...))
	h.mux.HandleFunc("POST /api/onboarding/complete", endpoint.HandleFunc(h.completeOnboarding, procs...))
	h.mux.HandleFunc("GET /api/activity", endpoint.HandleFunc(h.activity, procs...))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func currentUser(r *http.Request) (string, error) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return "", endpoint.Error(http.StatusUnauthorized, "sign-in required", nil)
	}
	return s.UserID, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	uid, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.Get(r.Context(), uid)
	if err != nil {
		return nil, serviceError(err)
	}
	return &endpoint.JSONRenderer{Value: p}, nil
}

type updateParams struct {
	Body UpdateRequest `body:"json"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, params updateParams) (endpoint.Renderer, error) {
	uid, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.Update(r.Context(), uid, params.Body)
	if err != nil {
		return nil, serviceError(err)
	}
	return &endpoint.JSONRenderer{Value: p}, nil
}

func (h *Handler) completeOnboarding(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	uid, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.CompleteOnboarding(r.Context(), uid)
	if err != nil {
		return nil, serviceError(err)
	}
	return &endpoint.JSONRenderer{Value: p}, nil
}

type activityParams struct {
	Limit int `query:"limit"`
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request, params activityParams) (endpoint.Renderer, error) {
	uid, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	entries, err := h.audit.Recent(r.Context(), uid, params.Limit)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return &endpoint.JSONRenderer{Value: entries}, nil
}

func serviceError(err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return endpoint.Error(http.StatusBadRequest, "invalid "+strings.Join(fields, ", "), err)
	case errors.Is(err, ErrNotFound):
		return endpoint.Error(http.StatusNotFound, "profile not found", err)
	case errors.Is(err, ErrRoleRequired):
		return endpoint.Error(http.StatusConflict, "choose a role before completing onboarding", err)
	default:
		return endpoint.Error(http.StatusInternalServerError, "", err)
	}
}
