package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var kindStatus = map[string]struct {
	status int
	title  string
}{
	shared.KindValidation:                 {http.StatusBadRequest, "Validation Failed"},
	shared.KindNotFound:                   {http.StatusNotFound, "Not Found"},
	shared.KindInvalidStateTransition:     {http.StatusConflict, "Invalid State Transition"},
	shared.KindInvalidTransfer:            {http.StatusConflict, "Invalid Transfer"},
	shared.KindConflict:                   {http.StatusConflict, "Conflict"},
	shared.KindInsufficientStock:          {http.StatusUnprocessableEntity, "Insufficient Stock"},
	shared.KindInsufficientAvailableStock: {http.StatusUnprocessableEntity, "Insufficient Available Stock"},
	shared.KindInvalidReleaseAmount:       {http.StatusUnprocessableEntity, "Invalid Release Amount"},
	shared.KindExcessReceipt:              {http.StatusUnprocessableEntity, "Excess Receipt"},
	shared.KindNothingToReceive:           {http.StatusUnprocessableEntity, "Nothing To Receive"},
}

// StatusFor returns the HTTP status used for err.
func StatusFor(err error) int {
	if m, ok := kindStatus[shared.Kind(err)]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.Kind(err)
	m, ok := kindStatus[kind]
	if !ok {
		writeProblem(w, ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError, Kind: shared.KindInternal})
		return
	}
	problem := ProblemDetail{
		Type:   "urn:stockledger:error:" + kind,
		Title:  m.title,
		Status: m.status,
		Detail: err.Error(),
		Kind:   kind,
	}
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		problem.Errors = verr.Fields
	}
	if kind == shared.KindConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeProblem(w, problem)
}
