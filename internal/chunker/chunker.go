// Package chunker implements the content-defined chunking scheme that
// every FileSnapshot is built from: a polynomial rolling hash over a
// sliding window whose parameters are derived solely from the file size,
// so that two runs over identical bytes always produce identical cut
// points no matter how many times a file is re-chunked.
package chunker

import (
	"bufio"
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

const (
	base    int64 = 256
	modulus int64 = 1_000_000_007

	minWindow = 32
	maxWindow = 128
	minChunks = 2048

	windowDivisor = 1_000_000
	countDivisor  = 512 * 1024

	readBufSize = 64 * 1024
)

// Chunk is one content-defined chunk cut from a byte stream.
type Chunk struct {
	Offset  int64
	Size    int64
	Digest  string // lowercase hex, blake3-256
	Ordinal int
}

// Params are the window size W and modulus divisor N derived from a
// file's total size.
type Params struct {
	Window int64
	N      int64
}

// ParamsFor derives W and N for a file of the given size.
func ParamsFor(fileSize int64) Params {
	w := fileSize / windowDivisor
	if w < minWindow {
		w = minWindow
	}
	if w > maxWindow {
		w = maxWindow
	}

	n := fileSize / countDivisor
	if n < minChunks {
		n = minChunks
	}

	return Params{Window: w, N: n}
}

// Split reads r to EOF and returns its content-defined chunks. It is a
// pure function of the bytes read: identical input always yields
// identical offsets, sizes, and digests.
func Split(r io.Reader, fileSize int64) ([]Chunk, error) {
	params := ParamsFor(fileSize)
	w := params.Window
	n := params.N

	// B^(W-1) mod M, precomputed once so the rolling subtraction is O(1).
	highestPower := int64(1)
	for i := int64(0); i < w-1; i++ {
		highestPower = (highestPower * base) % modulus
	}

	var chunks []Chunk
	br := bufio.NewReaderSize(r, readBufSize)

	hasher := blake3.New()
	window := make([]byte, 0, w)
	var hash int64
	var chunkSize int64
	var chunkStart int64
	ordinal := 0

	resetChunk := func() {
		hasher.Reset()
		window = window[:0]
		hash = 0
		chunkSize = 0
	}

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		hasher.Write([]byte{c})
		chunkSize++

		full := len(window) >= int(w)
		if full {
			out := window[0]
			window = window[1:]
			removed := (int64(out) * highestPower) % modulus
			hash = ((hash-removed)%modulus + modulus) % modulus
		}

		hash = (hash*base + int64(c)) % modulus
		window = append(window, c)

		if len(window) >= int(w) && hash%n == 0 {
			chunks = append(chunks, Chunk{
				Offset:  chunkStart,
				Size:    chunkSize,
				Digest:  hex.EncodeToString(hasher.Sum(nil)),
				Ordinal: ordinal,
			})
			chunkStart += chunkSize
			ordinal++
			resetChunk()
		}
	}

	if chunkSize > 0 {
		chunks = append(chunks, Chunk{
			Offset:  chunkStart,
			Size:    chunkSize,
			Digest:  hex.EncodeToString(hasher.Sum(nil)),
			Ordinal: ordinal,
		})
	}

	return chunks, nil
}

// Digest returns the lowercase hex blake3-256 digest of data, the same
// function Split uses per-chunk.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
