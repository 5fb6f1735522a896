package compression

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"edgemesh/pkg/fabricerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	payload := []byte(strings.Repeat(`{"ret_code":"OK","output":"aGVsbG8="}`, 200))

	for _, enc := range []Encoding{Identity, Gzip, Zstd} {
		t.Run(enc.String(), func(t *testing.T) {
			body, err := Encode(enc, payload)
			require.NoError(t, err)
			if enc != Identity {
				assert.Less(t, len(body), len(payload))
			}

			got, err := Decode(enc, bytes.NewReader(body), int64(len(payload)))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecode_Limit(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)
	body, err := Encode(Zstd, payload)
	require.NoError(t, err)

	_, err = Decode(Zstd, bytes.NewReader(body), 1024)
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(Gzip, strings.NewReader("not gzip"), 1024)
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)

	_, err = Decode(Zstd, strings.NewReader("not zstd"), 1024)
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"": Identity, "identity": Identity, "gzip": Gzip, "x-gzip": Gzip, "zstd": Zstd} {
		got, err := ParseEncoding(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEncoding("br")
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)
}

func TestDecode_ExactLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 1024)
	for _, enc := range []Encoding{Identity, Gzip, Zstd} {
		body, err := Encode(enc, payload)
		require.NoError(t, err)

		got, err := Decode(enc, bytes.NewReader(body), 1024)
		require.NoError(t, err, enc.String())
		assert.Len(t, got, 1024)

		_, err = Decode(enc, bytes.NewReader(body), 1023)
		assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage, enc.String())
	}
}

func TestEncode_ConcurrentZstd(t *testing.T) {
	payload := []byte(strings.Repeat("edge", 512))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := Encode(Zstd, payload)
			if !assert.NoError(t, err) {
				return
			}
			got, err := Decode(Zstd, bytes.NewReader(body), int64(len(payload)))
			assert.NoError(t, err)
			assert.Equal(t, payload, got)
		}()
	}
	wg.Wait()
}

func TestEncode_Unknown(t *testing.T) {
	_, err := Encode(Encoding("br"), []byte("x"))
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)
}
