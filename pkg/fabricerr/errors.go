package fabricerr

import "errors"

var (
	// ErrConfiguration reports an empty or invalid endpoint or argument,
	// detected before any network call.
	ErrConfiguration = errors.New("edgemesh: configuration error")
	// ErrInvalidWeight reports a non-positive or non-finite route weight.
	ErrInvalidWeight = errors.New("edgemesh: invalid weight")
	// ErrNoRoute reports a lookup for a function without destinations.
	ErrNoRoute = errors.New("edgemesh: no route")
	// ErrTransport reports an unreachable peer or a broken stream.
	ErrTransport = errors.New("edgemesh: transport error")
	// ErrMalformedMessage reports an undeserializable or invalid payload.
	ErrMalformedMessage = errors.New("edgemesh: malformed message")
)
