package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hyperjump/shiru/internal/models"
)

// vectorsMagic opens every vectors file so a truncated or foreign file is rejected early.
var vectorsMagic = [4]byte{'S', 'H', 'V', '1'}

const (
	vectorsHeaderSize = 12
	// maxDimensions bounds the header's dimension before any buffer is sized from it.
	maxDimensions = 1 << 16
	// preallocLimit caps how many entries are preallocated when the input size is unknown.
	preallocLimit = 4096
)

// WriteVectors writes entries in the vectors file format: magic (4), dimension (4), n (4),
// then per entry: chunk id (8), vector (dimension*4 bytes). All integers and floats are
// little endian, so vectors round-trip bit for bit.
func WriteVectors(w io.Writer, dimensions int, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(vectorsMagic[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range ids {
		if len(vectors[i]) != dimensions {
			return fmt.Errorf("vector %d has %d dimensions, want %d", id, len(vectors[i]), dimensions)
		}
		if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := bw.Write(float32SliceToBytes(vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return bw.Flush()
}

// ReadVectors reads a vectors file written by WriteVectors.
func ReadVectors(r io.Reader) (dimensions int, ids []int64, vectors [][]float32, err error) {
	return readVectors(r, -1)
}

// readVectors reads a vectors file. When size is not negative it is the total input length,
// and a header that does not account for exactly that many bytes is rejected before anything
// is allocated.
func readVectors(r io.Reader, size int64) (dimensions int, ids []int64, vectors [][]float32, err error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, nil, nil, fmt.Errorf("read header: %w", err)
	}
	if magic != vectorsMagic {
		return 0, nil, nil, errors.New("not a vectors file")
	}
	var dim, n uint32
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return 0, nil, nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return 0, nil, nil, fmt.Errorf("read count: %w", err)
	}
	if dim == 0 || dim > maxDimensions {
		return 0, nil, nil, fmt.Errorf("corrupt header: dimension %d", dim)
	}
	capacity := int(n)
	if size >= 0 {
		want := vectorsHeaderSize + int64(n)*(8+4*int64(dim))
		if want != size {
			return 0, nil, nil, fmt.Errorf("corrupt header: %d entries of dimension %d need %d bytes, file has %d", n, dim, want, size)
		}
	} else if capacity > preallocLimit {
		capacity = preallocLimit
	}
	ids = make([]int64, 0, capacity)
	vectors = make([][]float32, 0, capacity)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return 0, nil, nil, fmt.Errorf("read id %d of %d: %w", i, n, err)
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, nil, nil, fmt.Errorf("read vector %d: %w", id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	return int(dim), ids, vectors, nil
}

// SaveVectors writes the index's vectors to path.
func (x *Index) SaveVectors(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	if err := WriteVectors(f, x.dimensions, x.ids, x.vectors); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync vectors file: %w", err)
	}
	return f.Close()
}

// LoadVectors reads the vectors file at path.
func LoadVectors(path string) (dimensions int, ids []int64, vectors [][]float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, nil, nil, err
	}
	return readVectors(f, info.Size())
}

// Restore builds an index from persisted parts. chunks must hold an entry for every id.
func Restore(dimensions int, ids []int64, vectors [][]float32, chunks map[int64]models.Chunk) (*Index, error) {
	x, err := NewIndex(dimensions)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if len(vectors[i]) != dimensions {
			return nil, &models.DimensionError{Want: dimensions, Got: len(vectors[i])}
		}
		ch, ok := chunks[id]
		if !ok {
			return nil, fmt.Errorf("chunk %d has a vector but no stored text", id)
		}
		if _, dup := x.pos[id]; dup {
			return nil, fmt.Errorf("chunk %d stored twice", id)
		}
		x.pos[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, vectors[i])
		x.chunks = append(x.chunks, ch)
	}
	return x, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
