package cachelayer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/protobuf/proto"
)

const (
	wireProtobuf byte = 1
	wireGob      byte = 2
)

// SerializedDecorator stores a byte-encoded copy of every value so that
// mutations the caller makes to a returned object never leak back into the
// cache (spec.md §4.H serialized cache: "GetObject returns an
// independent copy"). Values whose concrete type implements proto.Message
// are encoded with protobuf's wire format; everything else falls back to
// encoding/gob, which (unlike protobuf) needs no .proto schema for plain
// Go structs. ZeroFactory must return a fresh zero value of the region's
// stored type so GetObject has something concrete to decode into — gob,
// like MyBatis' underlying Java serialization, does not recover a type
// from the byte stream alone.
type SerializedDecorator struct {
	region      Region
	zeroFactory func() interface{}
}

func NewSerializedDecorator(region Region, zeroFactory func() interface{}) *SerializedDecorator {
	return &SerializedDecorator{region: region, zeroFactory: zeroFactory}
}

func (d *SerializedDecorator) ID() string { return d.region.ID() }

func (d *SerializedDecorator) PutObject(key, value interface{}) {
	encoded, err := encodeValue(value)
	if err != nil {
		return
	}
	d.region.PutObject(key, encoded)
}

func (d *SerializedDecorator) GetObject(key interface{}) (interface{}, bool) {
	raw, ok := d.region.GetObject(key)
	if !ok {
		return nil, false
	}
	blob, ok := raw.([]byte)
	if !ok {
		return raw, true
	}
	out := d.zeroFactory()
	if err := decodeValue(blob, out); err != nil {
		return nil, false
	}
	return out, true
}

func (d *SerializedDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	return d.region.RemoveObject(key)
}
func (d *SerializedDecorator) Clear()    { d.region.Clear() }
func (d *SerializedDecorator) Size() int { return d.region.Size() }

func encodeValue(value interface{}) ([]byte, error) {
	if msg, ok := value.(proto.Message); ok {
		payload, err := proto.Marshal(msg)
		if err != nil {
			return nil, err
		}
		return append([]byte{wireProtobuf}, payload...), nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return append([]byte{wireGob}, buf.Bytes()...), nil
}

func decodeValue(blob []byte, out interface{}) error {
	if len(blob) == 0 {
		return fmt.Errorf("cachelayer: empty serialized payload")
	}
	wire, payload := blob[0], blob[1:]
	switch wire {
	case wireProtobuf:
		msg, ok := out.(proto.Message)
		if !ok {
			return fmt.Errorf("cachelayer: zero value %T is not a proto.Message", out)
		}
		return proto.Unmarshal(payload, msg)
	case wireGob:
		return gob.NewDecoder(bytes.NewReader(payload)).Decode(out)
	default:
		return fmt.Errorf("cachelayer: unknown serialization wire tag %d", wire)
	}
}
