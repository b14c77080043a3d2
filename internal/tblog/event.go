package tblog

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event field numbers.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

// FileVersion is written in the first event of every file.
const FileVersion = "brain.Event:2"

// Event is one entry of an event file.
type Event struct {
	WallTime    float64 // seconds since the Unix epoch
	Step        int64
	FileVersion string
	Summary     []Value
}

// Value is a tagged scalar.
type Value struct {
	Tag         string
	SimpleValue float32
}

// Marshal encodes e in protobuf wire format.
func (e *Event) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Summary) > 0 {
		var summary []byte
		for _, v := range e.Summary {
			summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, v.marshal())
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}
	return b
}

func (v Value) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)
	b = protowire.AppendTag(b, valueSimpleValue, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v.SimpleValue))
}

// Unmarshal decodes an Event. Unknown fields are skipped.
func (e *Event) Unmarshal(b []byte) error {
	*e = Event{}
	return walk(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(field)
			e.WallTime = math.Float64frombits(v)
			return n, nil
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			e.Step = int64(v)
			return n, nil
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(field)
			e.FileVersion = v
			return n, nil
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(field)
			if n < 0 {
				return n, nil
			}
			return n, e.unmarshalSummary(v)
		default:
			return protowire.ConsumeFieldValue(num, typ, field), nil
		}
	})
}

func (e *Event) unmarshalSummary(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		if num != summaryValue || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, field), nil
		}
		data, n := protowire.ConsumeBytes(field)
		if n < 0 {
			return n, nil
		}
		var v Value
		err := walk(data, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
			switch {
			case num == valueTag && typ == protowire.BytesType:
				s, n := protowire.ConsumeString(field)
				v.Tag = s
				return n, nil
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				f, n := protowire.ConsumeFixed32(field)
				v.SimpleValue = math.Float32frombits(f)
				return n, nil
			default:
				return protowire.ConsumeFieldValue(num, typ, field), nil
			}
		})
		e.Summary = append(e.Summary, v)
		return n, err
	})
}

var errTruncated = errors.New("truncated protobuf message")

// walk calls field for every (number, type) tag of b. field returns the
// number of value bytes it consumed or a negative protowire error code.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		if m > len(b) {
			return errTruncated
		}
		b = b[m:]
	}
	return nil
}
