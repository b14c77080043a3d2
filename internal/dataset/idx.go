package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// IDX magic numbers.
const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
)

// MNISTClasses are the class names of MNIST in label order.
var MNISTClasses = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// ReadIDXImages reads an IDX image file:
//
//	magic number: 0x00000803
//	number of images, rows, cols: 4 bytes each, big-endian
//	pixel data: unsigned bytes
//
// Pixels are scaled to [0, 1]. It returns the images laid out [N, 1, rows,
// cols] and the sample shape.
func ReadIDXImages(r io.Reader) ([]float32, []int, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, nil, errors.Wrap(err, "read idx image header")
	}
	if header[0] != idxImagesMagic {
		return nil, nil, errors.Errorf("invalid idx image magic 0x%08x", header[0])
	}
	n, rows, cols := int(header[1]), int(header[2]), int(header[3])

	pixels := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, nil, errors.Wrapf(err, "read %d idx images", n)
	}
	images := make([]float32, len(pixels))
	for i, p := range pixels {
		images[i] = float32(p) / 255
	}
	return images, []int{1, rows, cols}, nil
}

// ReadIDXLabels reads an IDX label file (magic 0x00000801).
func ReadIDXLabels(r io.Reader) ([]int64, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read idx label header")
	}
	if header[0] != idxLabelsMagic {
		return nil, errors.Errorf("invalid idx label magic 0x%08x", header[0])
	}
	raw := make([]byte, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "read %d idx labels", header[1])
	}
	labels := make([]int64, len(raw))
	for i, l := range raw {
		labels[i] = int64(l)
	}
	return labels, nil
}

// LoadMNIST loads one MNIST partition from dir. Files may be stored plain
// (train-images-idx3-ubyte) or gzip-compressed (train-images-idx3-ubyte.gz).
// maxSamples > 0 truncates the partition.
func LoadMNIST(dir string, partition Partition, maxSamples int) (*InMemory, error) {
	prefix := "train"
	if partition == Test {
		prefix = "t10k"
	}

	var images []float32
	var shape []int
	err := withIDXFile(filepath.Join(dir, prefix+"-images-idx3-ubyte"), func(r io.Reader) error {
		var err error
		images, shape, err = ReadIDXImages(r)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load mnist %s images", partition)
	}

	var labels []int64
	err = withIDXFile(filepath.Join(dir, prefix+"-labels-idx1-ubyte"), func(r io.Reader) error {
		var err error
		labels, err = ReadIDXLabels(r)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load mnist %s labels", partition)
	}

	size := shape[0] * shape[1] * shape[2]
	if len(images)/size != len(labels) {
		return nil, errors.Errorf("mnist %s: %d images but %d labels", partition, len(images)/size, len(labels))
	}
	if maxSamples > 0 && len(labels) > maxSamples {
		labels = labels[:maxSamples]
		images = images[:maxSamples*size]
	}
	return NewInMemory(images, labels, shape)
}

// withIDXFile opens path, or path+".gz" when path does not exist, and passes
// a decompressed reader to read.
func withIDXFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	compressed := false
	if os.IsNotExist(err) {
		f, err = os.Open(path + ".gz")
		compressed = true
	}
	if err != nil {
		return errors.Wrap(err, "open idx file")
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return errors.Wrapf(err, "open gzip stream %s.gz", path)
		}
		defer gz.Close()
		r = gz
	}
	return read(r)
}
