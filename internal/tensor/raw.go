package tensor

import "fmt"

// Device represents a compute device.
type Device int

// Supported devices.
const (
	CPU Device = iota
)

// String returns the device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the untyped storage shared by Tensor and the backends.
//
// Two RawTensors may share the same storage (see View); the autodiff tape
// tracks tensors by RawTensor pointer, so a view is a distinct node.
type RawTensor struct {
	shape   Shape
	strides []int
	dtype   DataType
	device  Device
	f32     []float32
	i64     []int64
}

// NewRaw allocates a zero-filled raw tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	r := &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		dtype:   dtype,
		device:  device,
	}
	switch dtype {
	case Float32:
		r.f32 = make([]float32, shape.NumElements())
	case Int64:
		r.i64 = make([]int64, shape.NumElements())
	default:
		return nil, fmt.Errorf("unsupported dtype %v", dtype)
	}
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the row-major strides.
func (r *RawTensor) Strides() []int {
	return r.strides
}

// DType returns the data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the payload size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// AsFloat32 returns the float32 storage.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor is %s, not float32", r.dtype))
	}
	return r.f32
}

// AsInt64 returns the int64 storage.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor is %s, not int64", r.dtype))
	}
	return r.i64
}

// Clone returns a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	c := &RawTensor{
		shape:   r.shape.Clone(),
		strides: append([]int(nil), r.strides...),
		dtype:   r.dtype,
		device:  r.device,
	}
	if r.f32 != nil {
		c.f32 = append([]float32(nil), r.f32...)
	}
	if r.i64 != nil {
		c.i64 = append([]int64(nil), r.i64...)
	}
	return c
}

// View returns a new header over the same storage with a different shape.
func (r *RawTensor) View(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("view: cannot view %v as %v", r.shape, shape))
	}
	return &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		dtype:   r.dtype,
		device:  r.device,
		f32:     r.f32,
		i64:     r.i64,
	}
}
