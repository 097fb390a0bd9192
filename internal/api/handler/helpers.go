package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"aca_backend/internal/api/middleware"
	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewClientError(common.ErrBadRequest, "Invalid "+name)
	}
	return id, nil
}

// identity fetches the caller set by middleware.Authenticator. It writes a 401
// and reports false when the route was wired without authentication.
func identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

// decodeJSONBody decodes r's body into v. An empty body leaves v untouched so
// the service reports which fields are missing.
func decodeJSONBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return common.WrapClientError(common.ErrBadRequest, "Invalid request payload", err)
	}
	return nil
}
