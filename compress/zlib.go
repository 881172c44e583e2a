// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package compress wraps the transport's two payload codecs: ZLIB, generic
// and reversible, and JPEG, a one-way encode for raw image payloads. Both
// operate over complete in-memory buffers; neither frames or prefixes a
// transport header.
package compress

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// zlibBlobHeaderSize is the fixed prefix of the stable on-wire layout of a
// ZLIB-compressed body:
// {uncompressed_size u32 LE, compressed_len u32 LE, compressed_data}.
// Carrying the uncompressed size lets the decoder preallocate exactly.
const zlibBlobHeaderSize = 8

// CompressZlib deflates data at the default level and wraps it in the
// stable {uncompressed_size, compressed_len, compressed_data} layout.
func CompressZlib(data []byte) []byte {
	var body bytes.Buffer
	w := zlib.NewWriter(&body)
	// A bytes.Buffer never returns a write error, so the errors from
	// Write/Close are unreachable in practice and are discarded.
	_, _ = w.Write(data)
	_ = w.Close()

	blob := make([]byte, zlibBlobHeaderSize+body.Len())
	binary.LittleEndian.PutUint32(blob[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(blob[4:8], uint32(body.Len()))
	copy(blob[zlibBlobHeaderSize:], body.Bytes())
	return blob
}

// DecompressZlib reverses CompressZlib. It fails on a truncated blob, a
// compressed-length mismatch, or a malformed deflate stream.
func DecompressZlib(blob []byte) ([]byte, error) {
	if len(blob) < zlibBlobHeaderSize {
		return nil, errors.Errorf("zlib blob too short: %d bytes", len(blob))
	}

	uncompressedSize := binary.LittleEndian.Uint32(blob[0:4])
	compressedLen := binary.LittleEndian.Uint32(blob[4:8])
	compressed := blob[zlibBlobHeaderSize:]
	if uint32(len(compressed)) != compressedLen {
		return nil, errors.Errorf("zlib blob declares %d compressed bytes, has %d", compressedLen, len(compressed))
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "open zlib stream")
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "inflate zlib stream")
	}
	// A well-formed stream is exhausted exactly at uncompressedSize; a
	// trailing byte means the declared size lied about the stream's length.
	var extra [1]byte
	if n, err := r.Read(extra[:]); n > 0 || (err != nil && err != io.EOF) {
		return nil, errors.New("zlib stream longer than declared uncompressed size")
	}

	return out, nil
}
