// Package serialization implements the container format used for model
// checkpoints:
//
//	Fixed header (64 bytes):
//	  0x00  [4 bytes: Magic "CAPN"]
//	  0x04  [4 bytes: Version (uint32 LE)]
//	  0x08  [4 bytes: Flags (uint32 LE)]
//	  0x0C  [4 bytes: reserved]
//	  0x10  [8 bytes: Header size (uint64 LE)]
//	  0x18  [8 bytes: Data size (uint64 LE)]
//	  0x20  [32 bytes: SHA-256 of the tensor data]
//	[Header: JSON metadata]
//	[Padding to a 64-byte boundary]
//	[Tensor data: little-endian, in header order]
//
// Tensors are written in lexical name order, so identical state dictionaries
// produce identical data sections.
//
//	err := serialization.Save(path, net.StateDict(), serialization.Header{
//	    ModelType: "CapsuleNetwork",
//	    Model:     cfgJSON,
//	})
//
//	stateDict, header, err := serialization.Load(path)
package serialization
