package tblog

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	in := Event{
		WallTime: 1700000000.25,
		Step:     7,
		Summary:  []Value{{Tag: "loss: ", SimpleValue: 0.5}, {Tag: "accuracy: ", SimpleValue: 0.875}},
	}
	var out Event
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Equal(t, in, out)

	require.NoError(t, out.Unmarshal((&Event{FileVersion: FileVersion}).Marshal()))
	assert.Equal(t, FileVersion, out.FileVersion)
	assert.Empty(t, out.Summary)
}

func TestUnmarshalTruncated(t *testing.T) {
	data := (&Event{Step: 3, Summary: []Value{{Tag: "x", SimpleValue: 1}}}).Marshal()
	var e Event
	assert.Error(t, e.Unmarshal(data[:len(data)-2]))
}

// Known value from the TFRecord format: crc32c("") = 0, masked = 0xa282ead8.
func TestMaskedCRC(t *testing.T) {
	assert.Equal(t, uint32(0xa282ead8), maskedCRC(nil))
}

func TestRecordFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, []byte("hello")))
	raw := buf.Bytes()
	require.Len(t, raw, 8+4+5+4)
	assert.Equal(t, uint64(5), binary.LittleEndian.Uint64(raw[:8]))

	payload, err := readRecord(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)

	raw[13] ^= 0x01
	_, err = readRecord(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "data checksum")
}

func TestRunWritesScalars(t *testing.T) {
	run, err := OpenRun(t.TempDir(), "run-1")
	require.NoError(t, err)
	require.NoError(t, run.Train.ScalarSummary("loss: ", 1.5, 0))
	require.NoError(t, run.Train.ScalarSummary("loss: ", 0.75, 1))
	require.NoError(t, run.Test.ScalarSummary("accuracy: ", 0.5, 0))
	trainPath := run.Train.Path()
	assert.Equal(t, filepath.Join(run.Dir, "train"), filepath.Dir(trainPath))
	require.NoError(t, run.Close())

	f, err := os.Open(trainPath)
	require.NoError(t, err)
	defer f.Close()
	events, err := ReadEvents(f)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, FileVersion, events[0].FileVersion)
	assert.Equal(t, int64(1), events[2].Step)
	assert.Equal(t, []Value{{Tag: "loss: ", SimpleValue: 0.75}}, events[2].Summary)
	assert.Positive(t, events[1].WallTime)
}
