package http

import (
	"net/http"

	"edgemesh/pkg/fabricerr"
)

// Status is the outcome carried by an envelope.
type Status string

const (
	StatusOK      Status = "OK" // health checks
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the envelope of replies without a domain payload: health
// checks, acknowledgements and errors. Code is a fabricerr wire code.
type Response struct {
	Status Status `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

var (
	healthResponse = Response{Status: StatusOK}
	ackResponse    = Response{Status: StatusSuccess}
)

// httpStatus is the HTTP status each wire code travels with. Unknown codes
// are internal errors.
var httpStatus = map[string]int{
	fabricerr.CodeInvalidWeight: http.StatusUnprocessableEntity,
	fabricerr.CodeNoRoute:       http.StatusNotFound,
	fabricerr.CodeConfiguration: http.StatusBadRequest,
	fabricerr.CodeMalformed:     http.StatusBadRequest,
	fabricerr.CodeTransport:     http.StatusBadGateway,
}

func failure(code, msg string) Response {
	return Response{Status: StatusError, Code: code, Error: msg}
}

// errorReply classifies err into an HTTP status and its envelope.
func errorReply(err error) (int, Response) {
	code := fabricerr.Code(err)
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, failure(code, err.Error())
}
