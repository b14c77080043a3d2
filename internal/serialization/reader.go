package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/capsnet/internal/tensor"
)

// ReaderOptions configures Read.
type ReaderOptions struct {
	// SkipChecksumValidation disables the SHA-256 check of the data section.
	SkipChecksumValidation bool
}

// Read decodes a file produced by Write.
func Read(r io.Reader, opts ReaderOptions) (map[string]*tensor.RawTensor, Header, error) {
	var header Header

	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, header, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, header, fmt.Errorf("%w: got %q", ErrInvalidMagic, fixed[0:4])
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, header, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var checksum [32]byte
	copy(checksum[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, header, ErrHeaderTooLarge
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, header, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, header, fmt.Errorf("failed to parse header: %w", err)
	}
	if err := ValidateHeader(&header, int64(dataSize)); err != nil {
		return nil, header, err
	}

	padding := dataOffset(int64(headerSize)) - int64(FixedHeaderSize) - int64(headerSize)
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, header, fmt.Errorf("failed to skip padding: %w", err)
	}
	var data bytes.Buffer
	if _, err := io.CopyN(&data, r, int64(dataSize)); err != nil {
		return nil, header, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data.Bytes()), checksum); err != nil {
			return nil, header, err
		}
	}

	stateDict := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		raw, err := decodeTensor(meta, data.Bytes()[meta.Offset:meta.Offset+meta.Size])
		if err != nil {
			return nil, header, fmt.Errorf("failed to decode tensor %s: %w", meta.Name, err)
		}
		stateDict[meta.Name] = raw
	}
	return stateDict, header, nil
}

// Load reads the file at path.
func Load(path string) (map[string]*tensor.RawTensor, Header, error) {
	//nolint:gosec // G304: loading a user-chosen checkpoint is the point
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Read(f, ReaderOptions{})
}

func decodeTensor(meta TensorMeta, data []byte) (*tensor.RawTensor, error) {
	dtype, _ := tensor.ParseDataType(meta.DType)
	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case tensor.Float32:
		out := raw.AsFloat32()
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case tensor.Int64:
		out := raw.AsInt64()
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
	}
	return raw, nil
}
