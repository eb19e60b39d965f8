// Package persistence mirrors the registry into durable storage as whole
// snapshots and restores it at startup.
package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"vanish.share/internal/store"
)

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"

	CompressionNone = "none"
	CompressionZstd = "zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("persistence: cbor encoder: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("persistence: cbor decoder: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persistence: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persistence: zstd decoder: " + err.Error())
	}
}

// Codec turns a registry document into bytes. Decoding detects the format
// and compression on its own, so changing either setting never strands an
// existing snapshot.
type Codec struct {
	format      string
	compression string
}

func NewCodec(format, compression string) (Codec, error) {
	if format == "" {
		format = FormatJSON
	}
	if compression == "" {
		compression = CompressionNone
	}
	switch format {
	case FormatJSON, FormatCBOR:
	default:
		return Codec{}, fmt.Errorf("unknown snapshot format %q", format)
	}
	switch compression {
	case CompressionNone, CompressionZstd:
	default:
		return Codec{}, fmt.Errorf("unknown snapshot compression %q", compression)
	}
	return Codec{format: format, compression: compression}, nil
}

func (c Codec) Encode(doc store.Document) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.format == FormatCBOR {
		data, err = cborEnc.Marshal(doc)
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if c.compression == CompressionZstd {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	return data, nil
}

// Decode reads a snapshot written by any Codec configuration.
func Decode(data []byte) (store.Document, error) {
	var doc store.Document
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return doc, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return doc, fmt.Errorf("decode json snapshot: %w", err)
		}
		return doc, nil
	}
	if err := cborDec.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode cbor snapshot: %w", err)
	}
	return doc, nil
}
