package server

import (
	"context"
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"
	"go.opentelemetry.io/otel/trace"

	"otcswap/native/synth"
	"otcswap/services/synthd/api"
	"otcswap/services/synthd/auth"
)

var (
	errThrottled  = errors.New("requester volume limit exceeded")
	errBadRequest = errors.New("invalid request")
)

type statusRule struct {
	target error
	status int
}

var statusRules = []statusRule{
	{synth.ErrInvalidAmount, http.StatusBadRequest},
	{synth.ErrArithmeticOverflow, http.StatusBadRequest},
	{synth.ErrInvalidAsset, http.StatusBadRequest},
	{synth.ErrInvalidFeeRate, http.StatusBadRequest},
	{synth.ErrInvalidCollateralRatio, http.StatusBadRequest},
	{synth.ErrInvalidMintAuthority, http.StatusBadRequest},
	{synth.ErrInvalidAccountOwner, http.StatusForbidden},
	{synth.ErrUnauthorized, http.StatusForbidden},
	{synth.ErrAccountNotFound, http.StatusNotFound},
	{synth.ErrAssetNotFound, http.StatusNotFound},
	{synth.ErrNotInitialized, http.StatusNotFound},
	{synth.ErrAlreadyInitialized, http.StatusConflict},
	{synth.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{synth.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{synth.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
	{synth.ErrInsufficientCollateral, http.StatusUnprocessableEntity},
	{synth.ErrPaused, http.StatusServiceUnavailable},
	{synth.ErrStalePrice, http.StatusServiceUnavailable},
	{synth.ErrUnreliablePrice, http.StatusServiceUnavailable},
	{synth.ErrOracleError, http.StatusServiceUnavailable},
	{synth.ErrInvalidPrice, http.StatusServiceUnavailable},
	{auth.ErrBadSignature, http.StatusUnauthorized},
	{auth.ErrExpired, http.StatusUnauthorized},
	{auth.ErrReplay, http.StatusConflict},
	{errThrottled, http.StatusTooManyRequests},
	{errBadRequest, http.StatusBadRequest},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
	{context.Canceled, http.StatusServiceUnavailable},
}

func httpStatus(err error) int {
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status
		}
	}
	return http.StatusInternalServerError
}

// errorBody renders err with its registered codespace and code. Errors
// outside the synth taxonomy keep their message only when they are local
// request errors; everything else is reported as internal.
func errorBody(ctx context.Context, err error) api.ErrorResponse {
	codespace, code, msg := errorsmod.ABCIInfo(err, false)
	body := api.ErrorResponse{Error: msg, Code: code, Codespace: codespace}
	if codespace == errorsmod.UndefinedCodespace {
		body.Codespace = "synthd"
		body.Code = 0
		if httpStatus(err) != http.StatusInternalServerError {
			body.Error = err.Error()
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		body.TraceID = sc.TraceID().String()
	}
	return body
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("synthd: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody(r.Context(), err))
}
