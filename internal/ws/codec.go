package ws

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ProtocolJSON     = "json"
	ProtocolProtobuf = "protobuf"

	SubprotocolJSON     = "crewbridge.json.v1"
	SubprotocolProtobuf = "crewbridge.protobuf.v1"
)

// Codec turns dashboard messages into frames for one subprotocol.
type Codec interface {
	Encode(msg map[string]any) ([]byte, error)
	Decode(raw []byte) (map[string]any, error)
	MessageType() int
}

type jsonCodec struct{}

func (jsonCodec) Encode(msg map[string]any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Decode(raw []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal json message: %w", err)
	}
	return msg, nil
}

func (jsonCodec) MessageType() int { return websocket.TextMessage }

// protobufCodec frames are zstd-compressed google.protobuf.Struct messages.
type protobufCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newProtobufCodec() (*protobufCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &protobufCodec{enc: enc, dec: dec}, nil
}

func (c *protobufCodec) Encode(msg map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return c.enc.EncodeAll(pbData, nil), nil
}

func (c *protobufCodec) Decode(raw []byte) (map[string]any, error) {
	pbData, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress message: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(pbData, &st); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return st.AsMap(), nil
}

func (c *protobufCodec) MessageType() int { return websocket.BinaryMessage }

// Close releases encoder resources.
func (c *protobufCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// toMap flattens v into the generic shape structpb accepts.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
