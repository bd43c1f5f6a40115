package server

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"teamup-messaging/internal/identity"
	"teamup-messaging/internal/storage/zapadapter"
)

const maxBodySize = 64 << 10

// enforcePOSTJSON is a middleware pre-processing each HTTP request
// it checks for POST method, application/json Content-Type header and valid json body
// it also sets blank Content-Type header to application/json
func enforcePOSTJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
			return
		}

		// check "Content-Type" header
		contentType := r.Header.Get("Content-Type")
		if contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Malformed Content-Type header")
				return
			}

			if mt != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type header must be application/json")
				return
			}
		} else {
			r.Header.Set("Content-Type", "application/json")
		}

		// check if provided request body is valid JSON
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
				return
			}
			writeError(w, http.StatusBadRequest, "Can not read request body")
			return
		}

		if len(body) == 0 {
			writeError(w, http.StatusBadRequest, "No body provided")
			return
		}

		err = fastjson.ValidateBytes(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Malformed JSON")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))

		next.ServeHTTP(w, r)
	})
}

// enforceGET rejects every method but GET (and HEAD, which net/http answers without a body)
func enforceGET(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the caller from the request credential and stores it in the request context
func authenticate(next http.Handler, auth Authenticator, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.Resolve(r.Context(), identity.TokenFromRequest(r))
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				zapadapter.WithRequestID(r.Context(), logger).Debugf("Rejecting %s: %v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			zapadapter.WithRequestID(r.Context(), logger).Errorf("Resolving caller identity: %v", err)
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), user)))
	})
}

func log(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()

		ctx := zapadapter.NewContextWithID(r.Context(), id)
		rwID := r.WithContext(ctx)

		logger.Info("incoming http request",
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("uri", r.URL.Path),
			zap.String("ip", r.RemoteAddr),
		)

		next.ServeHTTP(w, rwID)
	})
}
