// Package tblog writes scalar summaries as TensorBoard event files.
//
// An event file is a sequence of records:
//
//	uint64  length (little endian)
//	uint32  masked crc32c of length
//	[]byte  serialized Event protobuf
//	uint32  masked crc32c of data
//
// The Event and Summary messages are encoded directly with protowire; only
// the fields TensorBoard reads for scalars are produced:
//
//	Event   { double wall_time = 1; int64 step = 2; string file_version = 3; Summary summary = 5; }
//	Summary { repeated Value value = 1; }
//	Value   { string tag = 1; float simple_value = 2; }
package tblog
