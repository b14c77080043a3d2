package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/capsnet/internal/tensor"
)

// general wraps a row-major slice as a BLAS matrix.
func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// MatMul performs matrix multiplication: C = A @ B with A [M, K] and B [K, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", as, bs))
	}
	M, K, N := as[0], as[1], bs[1]
	if bs[0] != K {
		panic(fmt.Sprintf("matmul: inner dimensions do not match: %v @ %v", as, bs))
	}

	result := cpu.alloc("matmul", tensor.Shape{M, N}, tensor.Float32)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(M, K, a.AsFloat32()),
		general(K, N, b.AsFloat32()),
		0, general(M, N, result.AsFloat32()))
	return result
}

// BatchMatMul multiplies [B, M, K] by [B, K, N], one GEMM per batch entry.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("batch_matmul", a, b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 3 || len(bs) != 3 {
		panic(fmt.Sprintf("batch_matmul: expected 3D tensors, got %v and %v", as, bs))
	}
	batch, M, K, N := as[0], as[1], as[2], bs[2]
	if bs[0] != batch || bs[1] != K {
		panic(fmt.Sprintf("batch_matmul: incompatible shapes %v @ %v", as, bs))
	}

	result := cpu.alloc("batch_matmul", tensor.Shape{batch, M, N}, tensor.Float32)
	ad, bd, out := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
	cpu.forEach(batch, func(i int) {
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(M, K, ad[i*M*K:(i+1)*M*K]),
			general(K, N, bd[i*K*N:(i+1)*K*N]),
			0, general(M, N, out[i*M*N:(i+1)*M*N]))
	})
	return result
}
