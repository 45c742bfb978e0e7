package terrain

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // biome map decoding
	_ "image/jpeg" // biome map decoding
	_ "image/png"  // biome map decoding
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	_ "golang.org/x/image/bmp"  // biome map decoding
	_ "golang.org/x/image/tiff" // biome map decoding
	_ "golang.org/x/image/webp" // biome map decoding
)

// MaxBiomeMapSize is the largest accepted biome map edge.
const MaxBiomeMapSize = 16384

var (
	// ErrBiomeMapFormat is returned for input that is not a known biome
	// map encoding.
	ErrBiomeMapFormat = errors.New("terrain: unrecognized biome map format")

	// ErrBiomeMapShape is returned for maps that are not square or exceed
	// MaxBiomeMapSize.
	ErrBiomeMapShape = errors.New("terrain: biome map must be square and at most 16384 texels wide")
)

var (
	rg32Magic = []byte("RG32")
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// BiomeMap is a square field of (biome id, edge distance) pairs covering
// the world footprint. Row 0 is the most negative world Z.
type BiomeMap struct {
	Size int

	// Texels holds two floats per texel, row-major.
	Texels []float32
}

// NewBiomeMap returns a zeroed map of size x size texels.
func NewBiomeMap(size int) *BiomeMap {
	return &BiomeMap{Size: size, Texels: make([]float32, size*size*2)}
}

// At returns the texel at (x, y).
func (m *BiomeMap) At(x, y int) (id uint32, dist float32) {
	i := (y*m.Size + x) * 2
	return uint32(m.Texels[i]), m.Texels[i+1]
}

// Set stores the texel at (x, y).
func (m *BiomeMap) Set(x, y int, id uint32, dist float32) {
	i := (y*m.Size + x) * 2
	m.Texels[i] = float32(id)
	m.Texels[i+1] = dist
}

// Sample returns the texel under world position (x, z) for a world of the
// given width, using the same mapping as the SDF kernel.
func (m *BiomeMap) Sample(worldSize, x, z float32) (id uint32, dist float32) {
	if m == nil || m.Size == 0 || worldSize <= 0 {
		return 0, 1
	}
	texel := func(w float32) int {
		u := min(max(w/worldSize+0.5, 0), 0.999999)
		return int(u * float32(m.Size))
	}
	return m.At(texel(x), texel(z))
}

// Bytes returns the texels as little-endian RG32Float image data.
func (m *BiomeMap) Bytes() []byte {
	out := make([]byte, len(m.Texels)*4)
	for i, v := range m.Texels {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// biomeMapFromBytes wraps RG32Float image data read back from a backend.
func biomeMapFromBytes(size int, data []byte) (*BiomeMap, error) {
	if len(data) != size*size*8 {
		return nil, fmt.Errorf("terrain: biome map readback is %d bytes, want %d", len(data), size*size*8)
	}
	m := NewBiomeMap(size)
	for i := range m.Texels {
		m.Texels[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return m, nil
}

// Encode writes the map in the raw RG32 container: the magic "RG32",
// width and height as little-endian uint32, then the texels.
func (m *BiomeMap) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var hdr [12]byte
	copy(hdr[:], rg32Magic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(m.Size)) //nolint:gosec // bounded by MaxBiomeMapSize
	binary.LittleEndian.PutUint32(hdr[8:], uint32(m.Size)) //nolint:gosec // bounded by MaxBiomeMapSize
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.Write(m.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}

// EncodeCompressed writes the RG32 container compressed with Zstandard.
func (m *BiomeMap) EncodeCompressed(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := m.Encode(enc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// DecodeBiomeMap reads an externally supplied biome map.
//
// Accepted inputs are the RG32 container written by Encode, the same
// compressed with Zstandard, and any registered image format (PNG, JPEG,
// GIF, BMP, TIFF, WebP). Images are normalized to two channels: red is
// the 8-bit biome id and green the edge distance scaled to [0, 1]. Grey
// images carry the id only and get distance 1.
func DecodeBiomeMap(r io.Reader) (*BiomeMap, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiomeMapFormat, err)
	}

	if bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("terrain: biome map zstd: %w", err)
		}
		defer dec.Close()
		return DecodeBiomeMap(dec)
	}

	if bytes.Equal(magic, rg32Magic) {
		return decodeRG32(br)
	}

	var head bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(br, &head))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiomeMapFormat, err)
	}
	if cfg.Width != cfg.Height || cfg.Width == 0 || cfg.Width > MaxBiomeMapSize {
		return nil, fmt.Errorf("terrain: biome map %s: %w: got %dx%d", format, ErrBiomeMapShape, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(io.MultiReader(&head, br))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiomeMapFormat, err)
	}
	m, err := fromImage(img)
	if err != nil {
		return nil, fmt.Errorf("terrain: biome map %s: %w", format, err)
	}
	return m, nil
}

func decodeRG32(r io.Reader) (*BiomeMap, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("terrain: biome map header: %w", err)
	}
	w := binary.LittleEndian.Uint32(hdr[4:])
	h := binary.LittleEndian.Uint32(hdr[8:])
	if w != h || w == 0 || w > MaxBiomeMapSize {
		return nil, fmt.Errorf("%w: got %dx%d", ErrBiomeMapShape, w, h)
	}
	// Grows with the bytes present, not the declared size.
	want := int64(w) * int64(h) * 8
	data, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, fmt.Errorf("terrain: biome map texels: %w", err)
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("terrain: biome map texels: %w: got %d of %d bytes", io.ErrUnexpectedEOF, len(data), want)
	}
	return biomeMapFromBytes(int(w), data)
}

func fromImage(img image.Image) (*BiomeMap, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 || b.Dx() > MaxBiomeMapSize {
		return nil, fmt.Errorf("%w: got %dx%d", ErrBiomeMapShape, b.Dx(), b.Dy())
	}

	grey := false
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		grey = true
	}

	m := NewBiomeMap(b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dist := float32(1)
			if !grey {
				dist = float32(g) / 0xffff
			}
			m.Set(x, y, r>>8, dist)
		}
	}
	return m, nil
}
