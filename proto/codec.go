package proto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype the service speaks
// (application/grpc+cbor).
const CodecName = "cbor"

// Codec marshals messages with deterministic CBOR encoding.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCodec() (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("proto: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("proto: cbor decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func init() {
	c, err := newCodec()
	if err != nil {
		panic(err.Error())
	}
	encoding.RegisterCodec(c)
}

// Marshal implements encoding.Codec.
func (c *Codec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal implements encoding.Codec.
func (c *Codec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// Name implements encoding.Codec.
func (c *Codec) Name() string { return CodecName }
