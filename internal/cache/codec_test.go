package cache

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type payload struct {
	Rows []string `json:"rows"`
	N    int      `json:"n"`
}

func TestCodec_SmallPayloadStaysPlainJSON(t *testing.T) {
	c := Codec{CompressMin: 1024}
	b, err := c.Encode(payload{Rows: []string{"a"}, N: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b) != `{"rows":["a"],"n":1}` {
		t.Fatalf("unexpected encoding %q", b)
	}
	var out payload
	if err := c.Decode(b, &out); err != nil || out.N != 1 {
		t.Fatalf("decode: %+v %v", out, err)
	}
}

func TestCodec_LargePayloadIsCompressed(t *testing.T) {
	in := payload{N: 3}
	for range 500 {
		in.Rows = append(in.Rows, strings.Repeat("Equity", 4))
	}

	c := Codec{CompressMin: 512}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(b, lz4Magic) {
		t.Fatalf("expected lz4 frame, got %q", b[:8])
	}

	// a reader configured without compression still decodes compressed entries
	var out payload
	if err := (Codec{}).Decode(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Rows) != 500 || out.N != 3 {
		t.Fatalf("round trip lost data: rows=%d n=%d", len(out.Rows), out.N)
	}
}

func TestCodec_DecodeGarbageFails(t *testing.T) {
	var out payload
	if err := (Codec{}).Decode([]byte("not json"), &out); err == nil {
		t.Fatal("expected decode error")
	}
	corrupt := append(append([]byte{}, lz4Magic...), 0xff, 0x00, 0x01)
	if err := (Codec{}).Decode(corrupt, &out); err == nil {
		t.Fatal("expected decompress error")
	}
}

func TestCodec_NullOrEmptyDocumentIsRejected(t *testing.T) {
	c := Codec{CompressMin: 1}
	compressed, err := c.Encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, b := range [][]byte{nil, []byte(""), []byte("  "), []byte("null"), []byte(" null\n"), compressed} {
		var out payload
		if err := c.Decode(b, &out); !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("Decode(%q) err=%v want ErrEmptyPayload", b, err)
		}
	}
}
