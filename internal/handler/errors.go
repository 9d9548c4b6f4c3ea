package handler

import (
	"errors"
	"net/http"

	"fba-sync-api/internal/model"
	"fba-sync-api/internal/service"
	"fba-sync-api/internal/spapi"
	"fba-sync-api/pkg/apierror"
	"fba-sync-api/pkg/response"
)

// writeError maps service errors onto API errors.
func writeError(w http.ResponseWriter, err error, region string) {
	var apiErr *apierror.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, model.ErrUnknownRegion):
		apiErr = apierror.BadRequest("unknown region")
	case errors.Is(err, spapi.ErrMissingCredentials):
		apiErr = apierror.UnprocessableEntity("credentials are not configured for this region")
	case errors.Is(err, service.ErrRefreshInProgress):
		apiErr = apierror.Conflict("a refresh is already running for this region")
	case errors.Is(err, service.ErrUpstreamUnavailable), errors.Is(err, spapi.ErrCircuitOpen):
		apiErr = apierror.BadGateway("inventory service is unavailable and no planning data is cached")
	default:
		apiErr = apierror.InternalError("")
	}
	if region != "" && apiErr.Region == "" {
		apiErr.WithRegion(region)
	}
	response.Error(w, apiErr.WithCause(err))
}
