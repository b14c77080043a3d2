package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/capsnet/internal/parallel"
	"github.com/born-ml/capsnet/internal/tensor"
)

// convGeometry holds the dimensions of one Conv2D call.
type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

func (g convGeometry) colRows() int { return g.CIn * g.KH * g.KW }
func (g convGeometry) colCols() int { return g.HOut * g.WOut }

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeometry {
	requireFloat32(op, input, kernel)
	is, ks := input.Shape(), kernel.Shape()
	if len(is) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %v", op, is))
	}
	if len(ks) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %v", op, ks))
	}
	if is[1] != ks[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, is[1], ks[1]))
	}
	if stride < 1 {
		panic(fmt.Sprintf("%s: stride must be positive, got %d", op, stride))
	}
	g := convGeometry{
		N: is[0], CIn: is[1], H: is[2], W: is[3],
		COut: ks[0], KH: ks[2], KW: ks[3],
		stride: stride, padding: padding,
	}
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions %dx%d for input %v and kernel %v", op, g.HOut, g.WOut, is, ks))
	}
	return g
}

// im2col unrolls one sample [CIn, H, W] into columns [CIn*KH*KW, HOut*WOut].
func im2col(g convGeometry, img, col []float32) {
	cols := g.colCols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH+kh)*g.KW + kw) * cols
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride + kh - g.padding
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride + kw - g.padding
						var v float32
						if ih >= 0 && ih < g.H && iw >= 0 && iw < g.W {
							v = img[(c*g.H+ih)*g.W+iw]
						}
						col[row+oh*g.WOut+ow] = v
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col; it accumulates into img.
func col2im(g convGeometry, col, img []float32) {
	cols := g.colCols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH+kh)*g.KW + kw) * cols
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride + kh - g.padding
					if ih < 0 || ih >= g.H {
						continue
					}
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride + kw - g.padding
						if iw >= 0 && iw < g.W {
							img[(c*g.H+ih)*g.W+iw] += col[row+oh*g.WOut+ow]
						}
					}
				}
			}
		}
	}
}

// Conv2D performs 2D convolution using im2col and a GEMM per sample.
//
// Input [N, C_in, H, W], kernel [C_out, C_in, K_h, K_w], output
// [N, C_out, H_out, W_out] with H_out = (H + 2·padding − K_h)/stride + 1.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input, kernel, stride, padding)
	output := cpu.alloc("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, tensor.Float32)

	in, k, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	rows, cols := g.colRows(), g.colCols()
	imgSize := g.CIn * g.H * g.W
	outSize := g.COut * cols

	cpu.forEach(g.N, func(n int) {
		col := make([]float32, rows*cols)
		im2col(g, in[n*imgSize:(n+1)*imgSize], col)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(g.COut, rows, k),
			general(rows, cols, col),
			0, general(g.COut, cols, out[n*outSize:(n+1)*outSize]))
	})
	return output
}

// Conv2DInputBackward computes dL/dinput = col2im(Kᵀ @ grad).
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	result := cpu.alloc("conv2d_input_backward", input.Shape(), tensor.Float32)

	k, gd, dx := kernel.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	rows, cols := g.colRows(), g.colCols()
	imgSize := g.CIn * g.H * g.W
	outSize := g.COut * cols

	cpu.forEach(g.N, func(n int) {
		col := make([]float32, rows*cols)
		blas32.Gemm(blas.Trans, blas.NoTrans, 1,
			general(g.COut, rows, k),
			general(g.COut, cols, gd[n*outSize:(n+1)*outSize]),
			0, general(rows, cols, col))
		col2im(g, col, dx[n*imgSize:(n+1)*imgSize])
	})
	return result
}

// Conv2DKernelBackward computes dL/dkernel = Σ_n grad_n @ col_nᵀ.
// Samples are split into chunks with private accumulators that are summed at
// the end.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	result := cpu.alloc("conv2d_kernel_backward", kernel.Shape(), tensor.Float32)

	in, gd, dk := input.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	rows, cols := g.colRows(), g.colCols()
	imgSize := g.CIn * g.H * g.W
	outSize := g.COut * cols

	workers := max(cpu.par.NumWorkers, 1)
	chunk := (g.N + workers - 1) / workers
	partials := make([][]float32, (g.N+chunk-1)/chunk)

	parallel.ForRange(g.N, chunk, func(start, end int) {
		acc := make([]float32, len(dk))
		col := make([]float32, rows*cols)
		for n := start; n < end; n++ {
			im2col(g, in[n*imgSize:(n+1)*imgSize], col)
			blas32.Gemm(blas.NoTrans, blas.Trans, 1,
				general(g.COut, cols, gd[n*outSize:(n+1)*outSize]),
				general(rows, cols, col),
				1, general(g.COut, rows, acc))
		}
		partials[start/chunk] = acc
	}, cpu.par)

	for _, p := range partials {
		for i, v := range p {
			dk[i] += v
		}
	}
	return result
}
