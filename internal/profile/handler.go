package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"drugshop-serverless/internal/auth"
	"drugshop-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// Store is the slice of the credential store the profile routes need.
type Store interface {
	FindByID(ctx context.Context, id string) (auth.User, error)
	UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (auth.User, error)
}

type Handler struct {
	store  Store
	logger *observability.Logger
	now    func() time.Time
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger, now: time.Now}
}

type updateRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	DateOfBirth *string `json:"date_of_birth"`
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}

	user, err := h.store.FindByID(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}

	input, ok := parseUpdate(w, r)
	if !ok {
		return
	}

	update := auth.ProfileUpdate{
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
	}
	if input.DateOfBirth != nil {
		dob, err := auth.ParseDateOfBirth(*input.DateOfBirth, h.now())
		if err != nil {
			h.writeStoreError(w, err, "failed to update profile")
			return
		}
		update.DateOfBirth = dob
	}

	user, err := h.store.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		h.writeStoreError(w, err, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

func subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Subject == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return claims.Subject, true
}

func parseUpdate(w http.ResponseWriter, r *http.Request) (updateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return updateRequest{}, false
	}

	if input.FirstName == nil && input.LastName == nil && input.PhoneNumber == nil && input.DateOfBirth == nil {
		writeError(w, http.StatusBadRequest, "no profile fields provided")
		return updateRequest{}, false
	}
	return input, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *auth.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		sentry.CaptureException(err)
		h.logger.Error("profile_request_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
