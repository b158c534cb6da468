package transfer

import (
	"encoding/json"
	"fmt"
)

// Control messages travel as small JSON text frames on the same channel as
// the binary chunk frames.
const (
	controlFileInfo  = "file-info"
	controlFileError = "file-error"
)

// FileInfo announces an upcoming file. It must precede the first chunk frame
// for its fileId.
type FileInfo struct {
	Type        string `json:"type"`
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	TotalChunks int    `json:"totalChunks"`
}

// FileError reports a per-file failure to the other side. It never tears down
// the channel.
type FileError struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
	Error  string `json:"error"`
}

// ControlMessage is implemented by FileInfo and FileError.
type ControlMessage interface {
	controlType() string
}

func (FileInfo) controlType() string  { return controlFileInfo }
func (FileError) controlType() string { return controlFileError }

// ParseControlMessage decodes a text frame into its concrete control type.
func ParseControlMessage(raw []byte) (ControlMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("transfer: decode control message: %w", err)
	}

	switch probe.Type {
	case controlFileInfo:
		var msg FileInfo
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("transfer: decode file-info: %w", err)
		}
		if msg.FileID == "" || msg.FileName == "" || msg.FileSize < 0 || msg.TotalChunks <= 0 {
			return nil, fmt.Errorf("transfer: invalid file-info")
		}
		return msg, nil
	case controlFileError:
		var msg FileError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("transfer: decode file-error: %w", err)
		}
		if msg.FileID == "" {
			return nil, fmt.Errorf("transfer: file-error missing fileId")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("transfer: unknown control message type %q", probe.Type)
	}
}

func encodeControl(msg ControlMessage) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return raw
}
