package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrEmptyPayload reports a cached document that decodes to nothing.
var ErrEmptyPayload = errors.New("empty payload")

// lz4 frame magic number, little endian
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// Codec serialises responses as JSON and lz4-frames payloads of at least
// CompressMin bytes. Decode accepts both forms regardless of CompressMin.
type Codec struct {
	CompressMin int
}

func (c Codec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if c.CompressMin <= 0 || len(raw) < c.CompressMin {
		return raw, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) / 2)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Codec) Decode(b []byte, v any) error {
	raw := b
	if bytes.HasPrefix(b, lz4Magic) {
		var err error
		raw, err = io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	}
	if t := bytes.TrimSpace(raw); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return fmt.Errorf("decode payload: %w", ErrEmptyPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
