package pagestore

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// tagUncompressed and tagGzipped are the trailing tag byte values written by
// NewCompressBackend's transform (§4.7 "Compression").
const (
	tagUncompressed byte = 0
	tagGzipped      byte = 1
)

// NewCompressBackend wraps inner with gzip compression: each page is
// gzipped and a trailing tag byte records whether compression actually
// helped. If the gzipped form (plus tag) would not be smaller than the raw
// form (plus tag), the raw bytes are written instead, so compression never
// costs more than one byte.
func NewCompressBackend(inner Backend) *TransformBackend {
	return NewTransformBackend(inner, compressPage, decompressPage, 1)
}

func compressPage(_ uint32, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	if buf.Len()+1 >= len(in)+1 {
		raw := make([]byte, len(in)+1)
		copy(raw, in)
		raw[len(in)] = tagUncompressed
		return raw, nil
	}

	out := buf.Bytes()
	out = append(out, tagGzipped)
	return out, nil
}

func decompressPage(_ uint32, in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, NewError(ErrFormat, "transformed page too short for tag byte")
	}
	tag := in[len(in)-1]
	body := in[:len(in)-1]

	switch tag {
	case tagUncompressed:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case tagGzipped:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, NewError(ErrFormat, "unknown compression tag byte")
	}
}
