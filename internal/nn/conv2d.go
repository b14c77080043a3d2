package nn

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Conv2D applies a square 2D convolution over NCHW input and adds a
// per-channel bias.
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int
	weight      *Parameter[B] // [out, in, k, k]
	bias        *Parameter[B] // [out]
}

// NewConv2D creates a Conv2D layer with Xavier-initialized weights.
func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelSize, stride, padding int, backend B) *Conv2D[B] {
	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	weight := Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, backend)
	return &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", weight),
		bias:        NewParameter("bias", Zeros(tensor.Shape{outChannels}, backend)),
	}
}

// Forward convolves [N, C_in, H, W] into [N, C_out, H_out, W_out].
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		panic(fmt.Sprintf("Conv2D.Forward: expected [N, %d, H, W], got %v", c.inChannels, shape))
	}
	out := input.Conv2D(c.weight.Tensor(), c.stride, c.padding)
	return out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// OutputSize returns the spatial output size for an h×w input.
// Non-positive values mean the input is too small.
func (c *Conv2D[B]) OutputSize(h, w int) (int, int) {
	return ConvOutputSize(h, c.kernelSize, c.stride, c.padding), ConvOutputSize(w, c.kernelSize, c.stride, c.padding)
}

// ConvOutputSize returns (size + 2·padding − kernel)/stride + 1, or a
// non-positive value when the kernel does not fit.
func ConvOutputSize(size, kernel, stride, padding int) int {
	span := size + 2*padding - kernel
	if span < 0 {
		return 0
	}
	return span/stride + 1
}

// Parameters returns [weight, bias].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{c.weight, c.bias}
}

// StateDict returns {"weight", "bias"}.
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	return ParametersStateDict(c.weight, c.bias)
}

// LoadStateDict restores weight and bias.
func (c *Conv2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadParameters(stateDict, c.weight, c.bias)
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int {
	return c.outChannels
}

// String returns a description of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in=%d, out=%d, kernel=%d, stride=%d, padding=%d)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding)
}
