package cluster

import (
	"context"

	"edgemesh/pkg/callback"

	"github.com/google/uuid"
)

// RetOK is the return code of a successfully executed request.
const RetOK = "OK"

// maxHops bounds how many times a request may be forwarded.
const maxHops = 254

// Request asks for the execution of the function Name on Input.
type Request struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Input string    `json:"input,omitempty"`
	// Forward is set on requests coming from another router.
	Forward bool   `json:"forward,omitempty"`
	Hops    uint32 `json:"hops,omitempty"`
	// Callback, when set, makes the request asynchronous: the result is
	// delivered to this endpoint instead of being returned.
	Callback string `json:"callback,omitempty"`
}

type Response struct {
	ID               uuid.UUID `json:"id"`
	RetCode          string    `json:"ret_code"`
	Output           string    `json:"output,omitempty"`
	Responder        string    `json:"responder,omitempty"`
	ProcessingTimeMs uint32    `json:"processing_time_ms"`
	Hops             uint32    `json:"hops"`
	Asynchronous     bool      `json:"asynchronous,omitempty"`
}

// Result converts the response to what the callback service expects.
func (r Response) Result() callback.Result {
	return callback.Result{
		ID:               r.ID,
		RetCode:          r.RetCode,
		Output:           r.Output,
		Responder:        r.Responder,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Hops:             r.Hops,
	}
}

// Remote forwards a request to another router.
type Remote interface {
	Invoke(ctx context.Context, destination string, req Request) (Response, error)
}

// Executor runs a request on a final destination.
type Executor interface {
	Execute(ctx context.Context, destination string, req Request) (Response, error)
}

// ResultSender delivers the result of an asynchronous request.
type ResultSender interface {
	Deliver(ctx context.Context, res callback.Result) error
}

// SenderFactory returns a sender bound to a callback endpoint.
type SenderFactory func(endpoint string) (ResultSender, error)
