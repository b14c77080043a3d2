package tblog

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the TFRecord checksum: a rotated crc32c plus a constant.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// writeRecord frames data as one TFRecord.
func writeRecord(w io.Writer, data []byte) error {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC(header[0:8]))

	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, maskedCRC(data))

	for _, part := range [][]byte{header, data, footer} {
		if _, err := w.Write(part); err != nil {
			return errors.Wrap(err, "write record")
		}
	}
	return nil
}

// readRecord returns the next record payload, or io.EOF at a clean end of
// stream.
func readRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read record header")
	}
	if got := binary.LittleEndian.Uint32(header[8:12]); got != maskedCRC(header[0:8]) {
		return nil, errors.New("record length checksum mismatch")
	}
	length := binary.LittleEndian.Uint64(header[0:8])
	data := make([]byte, length+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(err, "read record of %d bytes", length)
	}
	payload, footer := data[:length], data[length:]
	if binary.LittleEndian.Uint32(footer) != maskedCRC(payload) {
		return nil, errors.New("record data checksum mismatch")
	}
	return payload, nil
}

// ReadEvents decodes every event in r.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	for {
		data, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		var e Event
		if err := e.Unmarshal(data); err != nil {
			return events, errors.Wrap(err, "decode event")
		}
		events = append(events, e)
	}
}
