package transfer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// lengthPrefixLen is the size of the little-endian header-length prefix
	// at the start of every chunk frame.
	lengthPrefixLen = 4

	// MaxHeaderBytes bounds the JSON chunk header so a corrupt length prefix
	// cannot demand an absurd allocation.
	MaxHeaderBytes = 4 * 1024
)

var (
	ErrFrameTooShort  = errors.New("transfer: chunk frame too short")
	ErrHeaderTooLarge = errors.New("transfer: chunk header too large")
)

// ChunkHeader describes one chunk frame. It travels as UTF-8 JSON between the
// length prefix and the payload.
type ChunkHeader struct {
	FileID      string `json:"fileId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	IsLastChunk bool   `json:"isLastChunk"`
}

func (h ChunkHeader) Validate() error {
	if h.FileID == "" {
		return fmt.Errorf("transfer: chunk header missing fileId")
	}
	if h.TotalChunks <= 0 {
		return fmt.Errorf("transfer: chunk header totalChunks %d", h.TotalChunks)
	}
	if h.ChunkIndex < 0 || h.ChunkIndex >= h.TotalChunks {
		return fmt.Errorf("transfer: chunk index %d out of range [0,%d)", h.ChunkIndex, h.TotalChunks)
	}
	if h.IsLastChunk != (h.ChunkIndex == h.TotalChunks-1) {
		return fmt.Errorf("transfer: isLastChunk inconsistent with index %d/%d", h.ChunkIndex, h.TotalChunks)
	}
	return nil
}

// EncodeChunkFrame builds a binary chunk frame: a 4-byte little-endian header
// length, the JSON header, then the payload bytes as given (already encrypted
// when a session key is in use).
func EncodeChunkFrame(h ChunkHeader, payload []byte) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	header, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("transfer: encode chunk header: %w", err)
	}

	frame := make([]byte, lengthPrefixLen+len(header)+len(payload))
	binary.LittleEndian.PutUint32(frame[:lengthPrefixLen], uint32(len(header)))
	copy(frame[lengthPrefixLen:], header)
	copy(frame[lengthPrefixLen+len(header):], payload)
	return frame, nil
}

// DecodeChunkFrame splits a binary frame into its header and payload. The
// payload aliases the input.
func DecodeChunkFrame(frame []byte) (ChunkHeader, []byte, error) {
	if len(frame) < lengthPrefixLen {
		return ChunkHeader{}, nil, ErrFrameTooShort
	}
	headerLen := binary.LittleEndian.Uint32(frame[:lengthPrefixLen])
	if headerLen > MaxHeaderBytes {
		return ChunkHeader{}, nil, ErrHeaderTooLarge
	}
	if uint32(len(frame)-lengthPrefixLen) < headerLen {
		return ChunkHeader{}, nil, ErrFrameTooShort
	}

	raw := frame[lengthPrefixLen : lengthPrefixLen+int(headerLen)]
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var h ChunkHeader
	if err := dec.Decode(&h); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("transfer: decode chunk header: %w", err)
	}
	if err := h.Validate(); err != nil {
		return ChunkHeader{}, nil, err
	}

	return h, frame[lengthPrefixLen+int(headerLen):], nil
}
