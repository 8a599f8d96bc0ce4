package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"gepspresale/native/bank"
	nativecommon "gepspresale/native/common"
	"gepspresale/native/presale"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorTable = []errorMapping{
	{presale.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{presale.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{presale.ErrUnsupportedCurrency, http.StatusBadRequest, "unsupported_currency"},
	{presale.ErrInvalidSchedule, http.StatusBadRequest, "invalid_schedule"},
	{presale.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{presale.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{presale.ErrSaleNotStarted, http.StatusConflict, "sale_not_started"},
	{presale.ErrSaleEnded, http.StatusConflict, "sale_ended"},
	{presale.ErrInsufficientAllocation, http.StatusConflict, "insufficient_allocation"},
	{presale.ErrClaimNotOpen, http.StatusConflict, "claim_not_open"},
	{presale.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{presale.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
	{presale.ErrSaleNotEnded, http.StatusConflict, "sale_not_ended"},
	{bank.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_funds"},
	{bank.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_funds"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
}

// classify maps an engine error to an HTTP status and stable error code.
func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeEngineError renders err and returns the code written.
func writeEngineError(w http.ResponseWriter, err error) string {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, code, message)
	return code
}
