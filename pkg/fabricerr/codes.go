package fabricerr

import "errors"

// Wire codes carried in error responses.
const (
	CodeInvalidWeight = "invalid_weight"
	CodeNoRoute       = "no_route"
	CodeConfiguration = "configuration"
	CodeMalformed     = "malformed"
	CodeTransport     = "transport"
	CodeInternal      = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidWeight, CodeInvalidWeight},
	{ErrNoRoute, CodeNoRoute},
	{ErrConfiguration, CodeConfiguration},
	{ErrMalformedMessage, CodeMalformed},
	{ErrTransport, CodeTransport},
}

// Code returns the wire code of err, CodeInternal if err wraps no sentinel.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode returns the sentinel for a wire code, nil if the code is unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
