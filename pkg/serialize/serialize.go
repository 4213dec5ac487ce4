// Package serialize provides the cache entry codecs (C3): plain JSON,
// gzip-compressed JSON, and gob binary, behind a single Serializer
// interface. Grounded on the teacher's
// pkg/embedding/cache/compression.go (gzip-wrapped JSON entries) and
// pkg/common/cache/cache.go's marshal/unmarshal helpers. Uses only the
// standard library, matching the teacher's own choice of compress/gzip
// over a third-party compression library.
package serialize

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"io"

	"github.com/developer-mesh/ptolemies/pkg/perrors"
)

// Format names the wire encoding a Serializer produces.
type Format string

const (
	FormatJSON           Format = "json"
	FormatCompressedJSON Format = "json+gzip"
	FormatGob            Format = "gob"
)

// Serializer encodes and decodes cache payloads.
type Serializer interface {
	Format() Format
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// New returns the Serializer for the given format.
func New(f Format) Serializer {
	switch f {
	case FormatCompressedJSON:
		return compressedJSON{}
	case FormatGob:
		return gobCodec{}
	default:
		return plainJSON{}
	}
}

type plainJSON struct{}

func (plainJSON) Format() Format { return FormatJSON }

func (plainJSON) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.KindDecodeError, "serialize.json.marshal")
	}
	return b, nil
}

func (plainJSON) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "serialize.json.unmarshal")
	}
	return nil
}

type compressedJSON struct{}

func (compressedJSON) Format() Format { return FormatCompressedJSON }

func (compressedJSON) Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.marshal")
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.write")
	}
	if err := gw.Close(); err != nil {
		return nil, perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.close")
	}
	return buf.Bytes(), nil
}

func (compressedJSON) Unmarshal(data []byte, v interface{}) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.open")
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.read")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "serialize.gzip.unmarshal")
	}
	return nil
}

type gobCodec struct{}

func (gobCodec) Format() Format { return FormatGob }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, perrors.Wrap(err, perrors.KindDecodeError, "serialize.gob.marshal")
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "serialize.gob.unmarshal")
	}
	return nil
}

// PickByBudget chooses compressed JSON once the plain encoding would
// exceed maxBytes, and falls back to plain JSON otherwise — a small
// heuristic so callers don't pay gzip overhead on small payloads.
func PickByBudget(v interface{}, maxBytes int) (Serializer, error) {
	plain := New(FormatJSON)
	raw, err := plain.Marshal(v)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return New(FormatCompressedJSON), nil
	}
	return plain, nil
}
