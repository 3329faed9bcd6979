package mapreduce

import (
	"bytes"
	"encoding/gob"
)

// Codec marshals values of type V to and from bytes for storage in a
// SpillStore. Each call to Marshal must produce bytes that Unmarshal can
// decode on its own, with no dependency on any other call's output,
// since spilled records are read back individually, at arbitrary
// offsets, by PickleInAdapter.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(p []byte) (V, error)
}

type gobCodec[V any] struct{}

// GobCodec returns the default Codec, backed by encoding/gob. A fresh
// encoder/decoder pair is used per call, so every record carries its own
// type descriptor and is independently decodable. Marshal encodes through
// a pointer to v, so when V is an interface type the record carries the
// dynamic type's registered name and Unmarshal can restore it.
func GobCodec[V any]() Codec[V] {
	return gobCodec[V]{}
}

func (gobCodec[V]) Marshal(v V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec[V]) Unmarshal(p []byte) (V, error) {
	var v V
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
