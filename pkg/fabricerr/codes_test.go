package fabricerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_RoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrInvalidWeight, ErrNoRoute, ErrConfiguration, ErrMalformedMessage, ErrTransport} {
		wrapped := fmt.Errorf("shard 3: %w", sentinel)
		assert.ErrorIs(t, FromCode(Code(wrapped)), sentinel)
	}
}

func TestCode_Unknown(t *testing.T) {
	assert.Equal(t, CodeInternal, Code(errors.New("disk on fire")))
	assert.Nil(t, FromCode("nope"))
	assert.Nil(t, FromCode(CodeInternal))
}
