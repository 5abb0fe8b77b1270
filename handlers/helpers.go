package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/identity"
	"github.com/Dosada05/presenza-calcio/middleware"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/Dosada05/presenza-calcio/services"
	"github.com/go-chi/chi/v5"
)

type jsonResponse map[string]interface{}

const maxBodyBytes = 1_048_576

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return decodeJSON(w, r, dst, true)
}

// readLenientJSON accepts unknown keys. The web client sends whole form objects.
func readLenientJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return decodeJSON(w, r, dst, false)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, strict bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Errorf("body contains unknown key %s", fieldName)
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBodyBytes)
		case errors.As(err, &invalidUnmarshalError):
			panic(err)
		default:
			return err
		}
	}

	err = dec.Decode(&struct{}{})
	if !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, headers http.Header) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func errorResponse(w http.ResponseWriter, r *http.Request, status int, message interface{}) {
	writeErrorEnvelope(w, r, status, jsonResponse{"error": message})
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, status int, env jsonResponse) {
	if err := writeJSON(w, status, env, nil); err != nil {
		slog.ErrorContext(r.Context(), "failed to write error response", slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	message := "the server encountered a problem and could not process your request"
	errorResponse(w, r, http.StatusInternalServerError, message)
}

// upstreamErrorResponse hides the failure behind a generic message and puts the
// upstream description in details.
func upstreamErrorResponse(w http.ResponseWriter, r *http.Request, status int, err error) {
	attrs := []any{slog.String("path", r.URL.Path), slog.Any("error", err)}
	var upstream *db.UpstreamError
	if errors.As(err, &upstream) {
		attrs = append(attrs, slog.String("service", upstream.Service), slog.Int("upstream_status", upstream.StatusCode))
	}
	slog.ErrorContext(r.Context(), "upstream call failed", attrs...)

	message := "upstream service failed"
	if status == http.StatusGatewayTimeout {
		message = "upstream service timed out, retry later"
	}
	writeErrorEnvelope(w, r, status, jsonResponse{"error": message, "details": err.Error()})
}

func badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusNotFound, err.Error())
}

func conflictResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusConflict, message)
}

func unauthorizedResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusUnauthorized, message)
}

func forbiddenResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusForbidden, message)
}

func getIDFromURL(r *http.Request, param string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		return "", fmt.Errorf("missing %s in URL", param)
	}
	return id, nil
}

// currentPrincipal writes a 401 and returns false when the request carries no caller.
func currentPrincipal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		unauthorizedResponse(w, r, "failed to identify current user")
		return models.Principal{}, false
	}
	return p, true
}

// mapServiceErrorToHTTP is the single place where service errors become statuses.
func mapServiceErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrValidationFailed),
		errors.Is(err, services.ErrInvalidRoleTransition),
		errors.Is(err, services.ErrInvalidConsentToken):
		badRequestResponse(w, r, err)

	case errors.Is(err, services.ErrForbiddenOperation),
		errors.Is(err, services.ErrSelfRevokeForbidden):
		forbiddenResponse(w, r, err.Error())

	case errors.Is(err, services.ErrTeamNotFound),
		errors.Is(err, services.ErrPlayerNotFound),
		errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrUserRoleNotFound),
		errors.Is(err, services.ErrConsentNotFound):
		notFoundResponse(w, r, err)

	case errors.Is(err, services.ErrTeamConflict),
		errors.Is(err, services.ErrPlayerConflict),
		errors.Is(err, services.ErrEventConflict),
		errors.Is(err, services.ErrEventVersionConflict),
		errors.Is(err, services.ErrConcurrentUpdate):
		conflictResponse(w, r, err.Error())

	case errors.Is(err, services.ErrCascadeIncomplete):
		upstreamErrorResponse(w, r, http.StatusInternalServerError, err)

	case errors.Is(err, services.ErrIdentityNotConfigured):
		errorResponse(w, r, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, db.ErrUpstreamTimeout),
		errors.Is(err, identity.ErrTimeout):
		upstreamErrorResponse(w, r, http.StatusGatewayTimeout, err)

	case errors.Is(err, db.ErrUpstream),
		errors.Is(err, db.ErrMalformedResult),
		errors.Is(err, services.ErrIdentityUnavailable):
		upstreamErrorResponse(w, r, http.StatusInternalServerError, err)

	default:
		serverErrorResponse(w, r, err)
	}
}
