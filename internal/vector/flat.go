// Package vector provides an exact inner-product index over unit-normalized
// embeddings, with a binary serialization contract for persistence.
package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hyperchat/kaiwa/pkg/utils"
)

// FormatTag identifies the serialized index format. Stored alongside the blob
// so deserialization can reject blobs written by a different format.
const FormatTag = "flat-ip-v1"

// ErrEmptyIndex is returned when searching an index with no vectors.
var ErrEmptyIndex = errors.New("vector index is empty")

const (
	blobMagic   = uint32(0x4B574950) // "KWIP"
	blobVersion = uint32(1)
)

// Hit is a single search result: the position of the vector in build order
// and its inner-product score against the query.
type Hit struct {
	Position int
	Score    float64
}

// FlatIndex holds unit-normalized vectors positionally aligned with sequence
// IDs (position i corresponds to the record with sequenceId i). Search is
// exact and exhaustive; the corpus is small enough that determinism and
// auditability matter more than latency. The index is immutable after Build
// and safe for concurrent searches; it is rebuilt wholesale on each ingest.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
}

// Build normalizes each vector to unit L2 norm and stores it positionally.
// All vectors must have identical dimensionality.
func Build(vectors [][]float32) (*FlatIndex, error) {
	ix := &FlatIndex{}
	if len(vectors) == 0 {
		return ix, nil
	}
	ix.dimensions = len(vectors[0])
	if ix.dimensions == 0 {
		return nil, fmt.Errorf("vectors must have positive dimensionality")
	}
	ix.vectors = make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != ix.dimensions {
			return nil, fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(v), ix.dimensions)
		}
		ix.vectors[i] = utils.NormalizeL2(v)
	}
	return ix, nil
}

// Dimensions returns the vector dimensionality (0 for an empty index).
func (ix *FlatIndex) Dimensions() int {
	return ix.dimensions
}

// Size returns the number of vectors in the index.
func (ix *FlatIndex) Size() int {
	return len(ix.vectors)
}

// Search normalizes the query and returns the top k vectors by descending
// inner product, ties broken by ascending position. k may equal the corpus
// size ("rank everything") and is clamped to it. Searching an empty index
// returns ErrEmptyIndex.
func (ix *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(ix.vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(query) != ix.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), ix.dimensions)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}

	q := utils.NormalizeL2(query)
	hits := make([]Hit, len(ix.vectors))
	for i, vec := range ix.vectors {
		var dot float64
		for j := 0; j < ix.dimensions; j++ {
			dot += float64(q[j]) * float64(vec[j])
		}
		hits[i] = Hit{Position: i, Score: dot}
	}
	// Insertion is in ascending position, so a stable sort on score keeps
	// equal-score hits in ascending position order.
	stableSortByScore(hits)
	return hits[:k], nil
}

func stableSortByScore(hits []Hit) {
	// Simple binary insertion sort; hit counts are small and stability is required.
	for i := 1; i < len(hits); i++ {
		h := hits[i]
		lo, hi := 0, i
		for lo < hi {
			mid := (lo + hi) / 2
			if hits[mid].Score >= h.Score {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		copy(hits[lo+1:i+1], hits[lo:i])
		hits[lo] = h
	}
}

// Serialize encodes the index as an opaque blob: magic, version, dimensions,
// count, then the raw float32 vectors in little-endian order.
func (ix *FlatIndex) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range []uint32{blobMagic, blobVersion, uint32(ix.dimensions), uint32(len(ix.vectors))} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	scratch := make([]byte, 4)
	for _, vec := range ix.vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(scratch, math.Float32bits(f))
			buf.Write(scratch)
		}
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a blob produced by Serialize. The resulting index
// returns identical search results for any query.
func Deserialize(data []byte) (*FlatIndex, error) {
	r := bytes.NewReader(data)
	var magic, version, dim, count uint32
	for _, p := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if magic != blobMagic {
		return nil, fmt.Errorf("not a vector index blob")
	}
	if version != blobVersion {
		return nil, fmt.Errorf("unsupported index blob version %d", version)
	}
	want := int(count) * int(dim) * 4
	if r.Len() != want {
		return nil, fmt.Errorf("index blob truncated: %d payload bytes, expected %d", r.Len(), want)
	}
	ix := &FlatIndex{}
	if count == 0 {
		return ix, nil
	}
	ix.dimensions = int(dim)
	ix.vectors = make([][]float32, count)
	payload := data[len(data)-want:]
	for i := range ix.vectors {
		vec := make([]float32, dim)
		for j := range vec {
			off := (i*int(dim) + j) * 4
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4]))
		}
		ix.vectors[i] = vec
	}
	return ix, nil
}
