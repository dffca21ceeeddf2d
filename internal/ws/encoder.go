package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protocol is the negotiated wire format of a connection.
type Protocol string

const (
	// ProtocolJSON sends text frames holding JSON envelopes.
	ProtocolJSON Protocol = "json"
	// ProtocolProtobuf sends binary frames holding a zstd-compressed
	// google.protobuf.Struct envelope.
	ProtocolProtobuf Protocol = "protobuf"
)

// Subprotocol names offered during the upgrade.
const (
	SubprotocolJSON     = "json.gexlive.v1"
	SubprotocolProtobuf = "protobuf.gexlive.v1"
)

// Codec converts envelopes to and from wire format.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a Codec with Zstd compression.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Encode serializes an envelope for the given protocol.
func (c *Codec) Encode(p Protocol, msg map[string]any) ([]byte, error) {
	if p == ProtocolJSON {
		return json.Marshal(msg)
	}

	s, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return c.zstdEncoder.EncodeAll(pbData, nil), nil
}

// Decode parses an upstream frame.
func (c *Codec) Decode(p Protocol, data []byte) (map[string]any, error) {
	if p == ProtocolJSON {
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal json: %w", err)
		}
		return msg, nil
	}

	raw, err := c.zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return s.AsMap(), nil
}

// Close releases codec resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

// toMap converts a JSON-serializable value into the generic form structpb accepts.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
