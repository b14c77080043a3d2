package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/tensor"
)

func rawFloat(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func sampleStateDict(t *testing.T) map[string]*tensor.RawTensor {
	steps, err := tensor.NewRaw(tensor.Shape{2}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	copy(steps.AsInt64(), []int64{-3, 1 << 40})
	return map[string]*tensor.RawTensor{
		"decoder.0.weight": rawFloat(t, []float32{1.5, -2, 3.25, 0}, 2, 2),
		"decoder.0.bias":   rawFloat(t, []float32{0.125}, 1),
		"steps":            steps,
	}
}

func TestRoundTrip(t *testing.T) {
	dict := sampleStateDict(t)
	model := json.RawMessage(`{"architecture":"NIPS2017"}`)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dict, Header{ModelType: "CapsuleNetwork", Model: model, Metadata: map[string]string{"k": "v"}}))
	assert.Equal(t, MagicBytes, buf.String()[:4])

	got, header, err := Read(bytes.NewReader(buf.Bytes()), ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CapsuleNetwork", header.ModelType)
	assert.JSONEq(t, string(model), string(header.Model))
	assert.Equal(t, "v", header.Metadata["k"])
	assert.False(t, header.CreatedAt.IsZero())

	require.Len(t, got, 3)
	assert.Equal(t, dict["decoder.0.weight"].AsFloat32(), got["decoder.0.weight"].AsFloat32())
	assert.Equal(t, tensor.Shape{2, 2}, got["decoder.0.weight"].Shape())
	assert.Equal(t, []int64{-3, 1 << 40}, got["steps"].AsInt64())

	names := make([]string, len(header.Tensors))
	for i, m := range header.Tensors {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"decoder.0.bias", "decoder.0.weight", "steps"}, names)
}

func TestDataSectionIsAligned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStateDict(t), Header{}))
	// 5 float32 and 2 int64 values: 36 bytes of data.
	assert.Zero(t, (buf.Len()-36)%HeaderAlignment)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStateDict(t), Header{}))
	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	_, _, err := Read(bytes.NewReader(data), ReaderOptions{})
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	_, _, err = Read(bytes.NewReader(data), ReaderOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestReadRejectsBadInput(t *testing.T) {
	_, _, err := Read(bytes.NewReader(make([]byte, FixedHeaderSize)), ReaderOptions{})
	assert.True(t, errors.Is(err, ErrInvalidMagic))

	_, _, err = Read(bytes.NewReader([]byte("CAPN")), ReaderOptions{})
	assert.Error(t, err)

	bad := map[string]*tensor.RawTensor{"../escape": rawFloat(t, []float32{1}, 1)}
	assert.Error(t, Write(&bytes.Buffer{}, bad, Header{}))
}

func TestValidateTensorOffsets(t *testing.T) {
	overlap := []TensorMeta{
		{Name: "a", Offset: 0, Size: 8},
		{Name: "b", Offset: 4, Size: 8},
	}
	var verr *ValidationError
	require.ErrorAs(t, ValidateTensorOffsets(overlap, 16), &verr)
	assert.Equal(t, "offset_overlap", verr.Type)

	outside := []TensorMeta{{Name: "a", Offset: 8, Size: 16}}
	require.ErrorAs(t, ValidateTensorOffsets(outside, 16), &verr)
	assert.Equal(t, "out_of_bounds", verr.Type)

	assert.NoError(t, ValidateTensorOffsets([]TensorMeta{{Name: "a", Size: 4}, {Name: "b", Offset: 4, Size: 4}}, 8))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pth.tar")
	require.NoError(t, Save(path, sampleStateDict(t), Header{ModelType: "test"}))

	got, header, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", header.ModelType)
	assert.Len(t, got, 3)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
