package cluster

import (
	"context"
	"fmt"

	"edgemesh/pkg/fabricerr"

	"github.com/google/uuid"
)

// Submit sends req to the router at destination asking for the result to be
// delivered to callbackEndpoint. It returns the request id once the router
// has acknowledged; the result arrives later, carrying the same id.
func Submit(ctx context.Context, remote Remote, destination, callbackEndpoint string, req Request) (uuid.UUID, error) {
	if callbackEndpoint == "" {
		return uuid.Nil, fmt.Errorf("%w: no callback endpoint", fabricerr.ErrConfiguration)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Callback = callbackEndpoint

	ack, err := remote.Invoke(ctx, destination, req)
	if err != nil {
		return uuid.Nil, err
	}
	if !ack.Asynchronous {
		return uuid.Nil, fmt.Errorf("%w: %s did not acknowledge request %s asynchronously (ret code %q)",
			fabricerr.ErrMalformedMessage, destination, req.ID, ack.RetCode)
	}
	return req.ID, nil
}
