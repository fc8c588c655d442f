package annmat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Container format: a fixed header followed by a zstd-compressed body.
//
//   Header (64 bytes):
//     - Magic (4): "CADM"
//     - Version (2): 1
//     - Flags (2): bit 0 set when X is stored sparse
//     - NObs (4): number of rows
//     - NVars (4): number of genes
//     - Checksum (4): CRC32 of uncompressed body
//     - BodySize (8): uncompressed body length
//     - Reserved (36)
//   Body (compressed with zstd), varint-encoded, length-prefixed strings:
//     - obs names, var names
//     - X rows: nnz, then (column delta, value) pairs
//     - obsm blocks, obs categoricals, obs strings, uns (each sorted by key)

const (
	// FileName is the container written into the results directory.
	FileName = "cells_adata.zmat"

	Magic      = "CADM"
	Version    = 1
	HeaderSize = 64

	flagSparseX = 1 << 0

	// maxDenseValues bounds n_obs*n_vars of a decoded X (8 GiB of int64).
	maxDenseValues = 1 << 30
)

var (
	ErrBadMagic = errors.New("not a packaged matrix file")
	ErrChecksum = errors.New("packaged matrix checksum mismatch")
)

// Header is the fixed-size file header.
type Header struct {
	Magic    [4]byte
	Version  uint16
	Flags    uint16
	NObs     uint32
	NVars    uint32
	Checksum uint32
	BodySize uint64
	Reserved [36]byte
}

// WriteStats describes one Save call.
type WriteStats struct {
	CompressTime     time.Duration
	UncompressedSize int
	CompressedSize   int
	NonZero          int
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.NObs)
	binary.LittleEndian.PutUint32(buf[12:16], h.NVars)
	binary.LittleEndian.PutUint32(buf[16:20], h.Checksum)
	binary.LittleEndian.PutUint64(buf[20:28], h.BodySize)
	copy(buf[28:64], h.Reserved[:])
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header too short", ErrBadMagic)
	}
	h := &Header{}
	copy(h.Magic[:], buf[0:4])
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported version: %d", h.Version)
	}
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.NObs = binary.LittleEndian.Uint32(buf[8:12])
	h.NVars = binary.LittleEndian.Uint32(buf[12:16])
	h.Checksum = binary.LittleEndian.Uint32(buf[16:20])
	h.BodySize = binary.LittleEndian.Uint64(buf[20:28])
	copy(h.Reserved[:], buf[28:64])
	return h, nil
}

// Save writes m to dir/FileName with zstd at the given level (1 fastest .. 4
// best), replacing any existing file. dir must already exist.
func Save(dir string, m *Matrix, level int) (string, WriteStats, error) {
	path := filepath.Join(dir, FileName)
	stats, err := WriteFile(path, m, level)
	return path, stats, err
}

// WriteFile writes m to path. The parent directory is not created.
func WriteFile(path string, m *Matrix, level int) (WriteStats, error) {
	var stats WriteStats

	if err := m.Validate(); err != nil {
		return stats, fmt.Errorf("invalid matrix: %w", err)
	}
	if uint64(m.NObs()) > math.MaxUint32 || uint64(m.NVars()) > math.MaxUint32 {
		return stats, errors.New("matrix too large for container")
	}

	body, nnz := encodeBody(m)
	stats.UncompressedSize = len(body)
	stats.NonZero = nnz

	header := Header{
		Version:  Version,
		Flags:    flagSparseX,
		NObs:     uint32(m.NObs()),
		NVars:    uint32(m.NVars()),
		Checksum: crc32.ChecksumIEEE(body),
		BodySize: uint64(len(body)),
	}
	copy(header.Magic[:], Magic)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return stats, fmt.Errorf("zstd encoder: %w", err)
	}
	defer encoder.Close()

	compressStart := time.Now()
	compressed := encoder.EncodeAll(body, nil)
	stats.CompressTime = time.Since(compressStart)
	stats.CompressedSize = len(compressed)

	f, err := os.Create(path)
	if err != nil {
		return stats, err
	}
	if _, err := f.Write(encodeHeader(&header)); err != nil {
		f.Close()
		return stats, err
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		return stats, err
	}
	return stats, f.Close()
}

// ReadHeader reads just the header from a container file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return decodeHeader(buf)
}

// Open loads a container file into memory.
func Open(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	header, err := decodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()

	body, err := decoder.DecodeAll(data[HeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%s: decompress: %w", path, err)
	}
	if uint64(len(body)) != header.BodySize {
		return nil, fmt.Errorf("%s: body size %d, header says %d", path, len(body), header.BodySize)
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return nil, fmt.Errorf("%s: %w", path, ErrChecksum)
	}

	m, err := decodeBody(body, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = appendString(buf, s)
	}
	return buf
}

func encodeBody(m *Matrix) ([]byte, int) {
	var buf []byte
	buf = appendStrings(buf, m.ObsNames)
	buf = appendStrings(buf, m.VarNames)

	// Count matrices are mostly zero; store each row sparse.
	nnz := 0
	for _, row := range m.X {
		rowNNZ := 0
		for _, v := range row {
			if v != 0 {
				rowNNZ++
			}
		}
		nnz += rowNNZ
		buf = binary.AppendUvarint(buf, uint64(rowNNZ))
		prev := 0
		for j, v := range row {
			if v == 0 {
				continue
			}
			buf = binary.AppendUvarint(buf, uint64(j-prev))
			buf = binary.AppendVarint(buf, v)
			prev = j
		}
	}

	buf = binary.AppendUvarint(buf, uint64(len(m.Obsm)))
	for _, key := range sortedKeys(m.Obsm) {
		b := m.Obsm[key]
		buf = appendString(buf, key)
		buf = appendStrings(buf, b.Columns)
		for _, row := range b.Values {
			for _, v := range row {
				buf = binary.AppendVarint(buf, v)
			}
		}
	}

	buf = binary.AppendUvarint(buf, uint64(len(m.ObsCategorical)))
	for _, key := range sortedKeys(m.ObsCategorical) {
		c := m.ObsCategorical[key]
		buf = appendString(buf, key)
		buf = appendStrings(buf, c.Categories)
		for _, code := range c.Codes {
			buf = binary.AppendVarint(buf, int64(code))
		}
	}

	buf = binary.AppendUvarint(buf, uint64(len(m.ObsStrings)))
	for _, key := range sortedKeys(m.ObsStrings) {
		buf = appendString(buf, key)
		for _, s := range m.ObsStrings[key] {
			buf = appendString(buf, s)
		}
	}

	buf = binary.AppendUvarint(buf, uint64(len(m.Uns)))
	for _, key := range sortedKeys(m.Uns) {
		buf = appendString(buf, key)
		buf = appendString(buf, m.Uns[key])
	}
	return buf, nnz
}

// bodyReader decodes the body, remembering the first error.
type bodyReader struct {
	buf []byte
	off int
	err error
}

func (r *bodyReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("body offset %d: "+format, append([]any{r.off}, args...)...)
	}
}

func (r *bodyReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad uvarint")
		return 0
	}
	r.off += n
	return v
}

func (r *bodyReader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad varint")
		return 0
	}
	r.off += n
	return v
}

// count reads a length and rejects values that cannot fit in the rest of
// the body.
func (r *bodyReader) count() int {
	n := r.uvarint()
	if n > uint64(len(r.buf)-r.off) {
		r.fail("length %d exceeds remaining body", n)
		return 0
	}
	return int(n)
}

func (r *bodyReader) str() string {
	n := r.count()
	if r.err != nil {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *bodyReader) strs() []string {
	n := r.count()
	out := make([]string, n)
	for i := range out {
		out[i] = r.str()
	}
	return out
}

func decodeBody(body []byte, h *Header) (*Matrix, error) {
	r := &bodyReader{buf: body}
	m := &Matrix{
		Obsm:           make(map[string]Block),
		ObsCategorical: make(map[string]Categorical),
		ObsStrings:     make(map[string][]string),
		Uns:            make(map[string]string),
	}

	m.ObsNames = r.strs()
	m.VarNames = r.strs()
	if r.err == nil && (len(m.ObsNames) != int(h.NObs) || len(m.VarNames) != int(h.NVars)) {
		return nil, fmt.Errorf("shape %dx%d does not match header %dx%d", len(m.ObsNames), len(m.VarNames), h.NObs, h.NVars)
	}
	n, nv := len(m.ObsNames), len(m.VarNames)
	if uint64(n)*uint64(nv) > maxDenseValues {
		return nil, fmt.Errorf("shape %dx%d exceeds %d values", n, nv, maxDenseValues)
	}

	m.X = make([][]int64, n)
	for i := range m.X {
		if r.err != nil {
			break
		}
		row := make([]int64, nv)
		nnz := r.count()
		if nnz > nv {
			r.fail("row %d has %d values, want at most %d", i, nnz, nv)
		}
		j := 0
		for k := 0; k < nnz && r.err == nil; k++ {
			delta := r.uvarint()
			if delta >= uint64(nv-j) || (k > 0 && delta == 0) {
				r.fail("row %d column delta %d out of range", i, delta)
				break
			}
			j += int(delta)
			row[j] = r.varint()
		}
		m.X[i] = row
	}

	for range r.count() {
		key := r.str()
		b := Block{Columns: r.strs(), Values: make([][]int64, n)}
		for i := range b.Values {
			row := make([]int64, len(b.Columns))
			for j := range row {
				row[j] = r.varint()
			}
			b.Values[i] = row
		}
		m.Obsm[key] = b
	}

	for range r.count() {
		key := r.str()
		c := Categorical{Categories: r.strs(), Codes: make([]int32, n)}
		for i := range c.Codes {
			c.Codes[i] = int32(r.varint())
		}
		m.ObsCategorical[key] = c
	}

	for range r.count() {
		key := r.str()
		vals := make([]string, n)
		for i := range vals {
			vals[i] = r.str()
		}
		m.ObsStrings[key] = vals
	}

	for range r.count() {
		key := r.str()
		m.Uns[key] = r.str()
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(body) {
		return nil, fmt.Errorf("%d trailing bytes in body", len(body)-r.off)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
