package transfer

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestChunkFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1024)
	h := ChunkHeader{FileID: "f1", ChunkIndex: 2, TotalChunks: 4, IsLastChunk: false}

	frame, err := EncodeChunkFrame(h, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, gotPayload, err := DecodeChunkFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestChunkFrameLayout(t *testing.T) {
	h := ChunkHeader{FileID: "f1", ChunkIndex: 0, TotalChunks: 1, IsLastChunk: true}
	frame, err := EncodeChunkFrame(h, []byte("data"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	headerLen := binary.LittleEndian.Uint32(frame[:4])
	if int(4+headerLen)+4 != len(frame) {
		t.Fatalf("length prefix %d inconsistent with frame size %d", headerLen, len(frame))
	}
	if !bytes.HasSuffix(frame, []byte("data")) {
		t.Fatalf("payload must trail the header")
	}
}

func TestDecodeChunkFrameRejectsCorruptInput(t *testing.T) {
	valid, _ := EncodeChunkFrame(ChunkHeader{FileID: "f1", ChunkIndex: 0, TotalChunks: 1, IsLastChunk: true}, []byte("x"))

	cases := map[string][]byte{
		"empty":           nil,
		"short prefix":    {1, 0},
		"truncated":       valid[:6],
		"huge header len": append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, valid[4:]...),
		"garbage header":  append([]byte{4, 0, 0, 0}, []byte("!!!!rest")...),
	}
	for name, frame := range cases {
		if _, _, err := DecodeChunkFrame(frame); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestChunkHeaderValidate(t *testing.T) {
	cases := []ChunkHeader{
		{FileID: "", ChunkIndex: 0, TotalChunks: 1, IsLastChunk: true},
		{FileID: "f", ChunkIndex: 0, TotalChunks: 0, IsLastChunk: false},
		{FileID: "f", ChunkIndex: 3, TotalChunks: 3, IsLastChunk: true},
		{FileID: "f", ChunkIndex: -1, TotalChunks: 3, IsLastChunk: false},
		{FileID: "f", ChunkIndex: 1, TotalChunks: 3, IsLastChunk: true},
		{FileID: "f", ChunkIndex: 2, TotalChunks: 3, IsLastChunk: false},
	}
	for _, h := range cases {
		if err := h.Validate(); err == nil {
			t.Fatalf("expected error for %+v", h)
		}
	}
	ok := ChunkHeader{FileID: "f", ChunkIndex: 2, TotalChunks: 3, IsLastChunk: true}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseControlMessage(t *testing.T) {
	info, err := ParseControlMessage([]byte(`{"type":"file-info","fileId":"f1","fileName":"a.txt","fileSize":10,"fileType":"text/plain","totalChunks":1}`))
	if err != nil {
		t.Fatalf("parse file-info: %v", err)
	}
	if got := info.(FileInfo); got.FileName != "a.txt" || got.FileSize != 10 {
		t.Fatalf("got %+v", got)
	}

	fe, err := ParseControlMessage([]byte(`{"type":"file-error","fileId":"f1","error":"boom"}`))
	if err != nil {
		t.Fatalf("parse file-error: %v", err)
	}
	if got := fe.(FileError); got.Error != "boom" {
		t.Fatalf("got %+v", got)
	}

	bad := []string{
		`{"type":"nope"}`,
		`{"type":"file-info","fileId":"","fileName":"a","fileSize":1,"totalChunks":1}`,
		`{"type":"file-info","fileId":"f","fileName":"a","fileSize":1,"totalChunks":0}`,
		`{"type":"file-error","fileId":""}`,
		`garbage`,
	}
	for _, raw := range bad {
		if _, err := ParseControlMessage([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
