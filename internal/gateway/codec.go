package gateway

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes frames for one connection.
type Codec interface {
	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
	Name() string
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// ByName resolves a negotiated codec name. Empty selects JSON. Unknown
// names are reported so the handshake can be refused before the upgrade.
func ByName(name string) (Codec, bool) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, true
	case CodecMsgpack:
		return msgpackCodec{}, true
	default:
		return nil, false
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(f Frame) ([]byte, error) { return json.Marshal(f) }

func (jsonCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

func (jsonCodec) Name() string { return CodecJSON }

type msgpackCodec struct{}

func (msgpackCodec) Encode(f Frame) ([]byte, error) { return msgpack.Marshal(f) }

func (msgpackCodec) Decode(data []byte) (Frame, error) {
	var f Frame
	err := msgpack.Unmarshal(data, &f)
	return f, err
}

func (msgpackCodec) Name() string { return CodecMsgpack }
