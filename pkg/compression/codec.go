// Package compression encodes and decodes HTTP bodies by their
// Content-Encoding value.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"edgemesh/pkg/fabricerr"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding is a Content-Encoding token.
type Encoding string

const (
	Identity Encoding = ""
	Gzip     Encoding = "gzip"
	Zstd     Encoding = "zstd"
)

var errTooLarge = errors.New("decoded body exceeds limit")

// zstdEncoder is shared: EncodeAll may be called concurrently.
var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))

// ParseEncoding maps a Content-Encoding header value to an Encoding.
// "identity" and the empty string are both Identity.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "identity":
		return Identity, nil
	case string(Gzip), "x-gzip":
		return Gzip, nil
	case string(Zstd):
		return Zstd, nil
	default:
		return Identity, fmt.Errorf("%w: unsupported content encoding %q", fabricerr.ErrMalformedMessage, s)
	}
}

func (e Encoding) String() string {
	if e == Identity {
		return "identity"
	}
	return string(e)
}

// Encode returns data compressed with enc. Identity returns data as is.
func Encode(enc Encoding, data []byte) ([]byte, error) {
	switch enc {
	case Identity:
		return data, nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("gzip encode: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", fabricerr.ErrConfiguration, string(enc))
	}
}

// Decode reads r as enc and returns at most limit decoded bytes. A body
// that decodes to more than limit bytes, or does not decode at all, is
// malformed.
func Decode(enc Encoding, r io.Reader, limit int64) ([]byte, error) {
	body, err := decode(enc, r, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s decode: %v", fabricerr.ErrMalformedMessage, enc, err)
	}
	return body, nil
}

func decode(enc Encoding, r io.Reader, limit int64) ([]byte, error) {
	var src io.Reader
	switch enc {
	case Identity:
		src = r
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		src = zr
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		src = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", string(enc))
	}

	// one byte past the limit tells an oversized body from an exact fit
	body, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errTooLarge
	}
	return body, nil
}
