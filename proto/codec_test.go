package proto

import (
	"bytes"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if c == nil {
		t.Fatalf("codec %q not registered", CodecName)
	}

	in := &IngestFileRequest{Name: "a.txt", Content: []byte("hello")}
	a, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, _ := c.Marshal(in)
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}

	var out IngestFileRequest
	if err := c.Unmarshal(a, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || string(out.Content) != "hello" {
		t.Errorf("decoded %+v", out)
	}
}
