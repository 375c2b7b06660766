// Package api exposes the audience registration endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// PlatformParam is the path wildcard naming the platform.
const PlatformParam = "platform"

type AudienceAPI struct {
	Store     dispatch.AudienceRegistrar
	Platforms map[string]struct{}
	Logger    *slog.Logger
}

// NewAudienceAPI accepts registrations only for the listed platforms.
func NewAudienceAPI(store dispatch.AudienceRegistrar, platforms []string, logger *slog.Logger) *AudienceAPI {
	set := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		set[p] = struct{}{}
	}
	return &AudienceAPI{
		Store:     store,
		Platforms: set,
		Logger:    logger.With("component", "AudienceAPI"),
	}
}

type AudienceRequest struct {
	UserID string `json:"user_id"`
}

// Register handles POST /api/v1/audience/{platform}.
func (api *AudienceAPI) Register(w http.ResponseWriter, r *http.Request) {
	audience, caller, ok := api.decode(w, r)
	if !ok {
		return
	}

	if err := api.Store.RegisterAudience(r.Context(), audience); err != nil {
		api.Logger.Error("Failed to register audience", "platform", audience.PlatformID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Audience registered", "platform", audience.PlatformID, "user_id", audience.UserID, "registered_by", caller)

	w.WriteHeader(http.StatusNoContent)
}

// Unregister handles DELETE /api/v1/audience/{platform}. It is idempotent:
// storage failures are logged and still answered with 204.
func (api *AudienceAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	audience, caller, ok := api.decode(w, r)
	if !ok {
		return
	}

	if err := api.Store.UnregisterAudience(r.Context(), audience); err != nil {
		api.Logger.Warn("Failed to unregister audience", "platform", audience.PlatformID, "err", err)
	} else {
		api.Logger.Info("Audience unregistered", "platform", audience.PlatformID, "user_id", audience.UserID, "registered_by", caller)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *AudienceAPI) decode(w http.ResponseWriter, r *http.Request) (dispatch.RegisteredAudience, string, bool) {
	caller, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return dispatch.RegisteredAudience{}, "", false
	}

	platform := r.PathValue(PlatformParam)
	if _, known := api.Platforms[platform]; !known {
		response.WriteJSONError(w, http.StatusNotFound, "unknown platform")
		return dispatch.RegisteredAudience{}, "", false
	}

	var req AudienceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return dispatch.RegisteredAudience{}, "", false
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing user_id")
		return dispatch.RegisteredAudience{}, "", false
	}

	return dispatch.RegisteredAudience{PlatformID: platform, UserID: req.UserID}, caller, true
}
