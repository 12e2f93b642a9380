// Package response writes the JSON envelope every API route returns:
//
//	{"status": "success", "data": ..., "errors": null}
//	{"status": "failure", "data": null, "errors": [{"error": "...", "detail": "..."}]}
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mrc-ide/outpack-server/internal/index"
	"github.com/mrc-ide/outpack-server/internal/query"
	"github.com/mrc-ide/outpack-server/internal/store"
)

// Error codes
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeBadQuery     = "BAD_QUERY"
	CodeInvalidQuery = "INVALID_QUERY"
	CodeNoMatch      = "NO_MATCH"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnknown      = "UNKNOWN_ERROR"
)

// Envelope is the body of every API response
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
	Errors []ErrorInfo `json:"errors"`
}

// ErrorInfo describes one failure
type ErrorInfo struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Success writes data with status 200
func Success(w http.ResponseWriter, data interface{}) {
	write(w, http.StatusOK, Envelope{Status: "success", Data: data})
}

// Failure writes a single error with the given status
func Failure(w http.ResponseWriter, status int, code, detail string) {
	write(w, status, Envelope{
		Status: "failure",
		Errors: []ErrorInfo{{Error: code, Detail: detail}},
	})
}

// NotFound is the response for an unknown route
func NotFound(w http.ResponseWriter, _ *http.Request) {
	Failure(w, http.StatusNotFound, CodeNotFound, "This route does not exist")
}

// MethodNotAllowed is the response for a known route with the wrong method
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	Failure(w, http.StatusMethodNotAllowed, CodeNotFound, "This route does not exist")
}

// Internal is the response for an unexpected failure. Details are not exposed.
func Internal(w http.ResponseWriter) {
	Failure(w, http.StatusInternalServerError, CodeUnknown, "Something went wrong")
}

// FromError picks the status and code for err and writes it
func FromError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		Internal(w)
		return
	}
	Failure(w, status, code, err.Error())
}

// Classify maps an error to an HTTP status and error code
func Classify(err error) (int, string) {
	var (
		notFound  *store.NotFoundError
		invalid   *store.InvalidInputError
		duplicate *index.DuplicateIDError
		qerr      *query.Error
	)

	switch {
	case errors.As(err, &qerr) && qerr.Kind == query.KindParse:
		return http.StatusBadRequest, CodeBadQuery
	case query.IsNoMatch(err):
		return http.StatusNotFound, CodeNoMatch
	case errors.As(err, &qerr):
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.As(err, &notFound), errors.Is(err, query.ErrPacketNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.As(err, &duplicate):
		return http.StatusConflict, CodeConflict
	case errors.As(err, &invalid):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeUnknown
	}
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
