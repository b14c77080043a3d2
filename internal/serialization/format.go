package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes      = "CAPN"
	FormatVersion   = 1
	HeaderAlignment = 64 // tensor data starts on a 64-byte boundary
	FixedHeaderSize = 64
	ChecksumSize    = 32
	ChecksumOffset  = 0x20
)

// Flags for the fixed header.
const (
	FlagHasMetadata uint32 = 1 << 0
	FlagHasModel    uint32 = 1 << 1
)

// Header is the JSON header of a file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Model         json.RawMessage   `json:"model,omitempty"` // architecture description
}

// TensorMeta describes one tensor of the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`
}

func (h *Header) flags() uint32 {
	var f uint32
	if len(h.Metadata) > 0 {
		f |= FlagHasMetadata
	}
	if len(h.Model) > 0 {
		f |= FlagHasModel
	}
	return f
}

// dataOffset returns the position of the data section for a header of the
// given size.
func dataOffset(headerSize int64) int64 {
	pos := int64(FixedHeaderSize) + headerSize
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}
