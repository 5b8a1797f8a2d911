package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// Ensure jsonCodec implements connect.Codec
var _ connect.Codec = jsonCodec{}

// jsonCodec marshals request and response structs with encoding/json.
// The tracker API uses plain Go structs over Connect; there is no
// generated schema code in this repository, so the default protobuf codecs
// are replaced wholesale.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}
