package software

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/aquilax/go-perlin"
	"github.com/chewxy/math32"
)

// Built-in kernel names. They match the embedded WGSL kernels.
const (
	KernelBiomeMap            = "biome_map"
	KernelTerrainSDF          = "terrain_sdf"
	KernelVegetationPlacement = "vegetation_placement"
	KernelTransformPlacement  = "transform_placement"
)

// Placement output layout shared with the vegetation package.
const (
	maxPlacements = 4096
	recordWords   = 12
	instanceWords = 12
)

// DefaultKernels returns a fresh map of the built-in kernels.
func DefaultKernels() map[string]KernelFunc {
	return map[string]KernelFunc{
		KernelBiomeMap:            biomeMap,
		KernelTerrainSDF:          terrainSDF,
		KernelVegetationPlacement: vegetationPlacement,
		KernelTransformPlacement:  transformPlacement,
	}
}

func hashU32(x uint32) uint32 {
	h := x
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return h
}

func unit(h uint32) float32 {
	return float32(h&0x00ffffff) / 16777216.0
}

func hashCell(cx, cy int32, seed uint32) uint32 {
	return hashU32((uint32(cx)*73856093 ^ uint32(cy)*19349663) ^ seed) //nolint:gosec // bit reinterpretation
}

func smoothstep(e0, e1, x float32) float32 {
	t := clamp((x-e0)/(e1-e0), 0, 1)
	return t * t * (3 - 2*t)
}

func clamp[T int | int32 | float32](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

// biomeMap writes a jittered Voronoi biome map.
// Params: biome_count, world_size, cell_scale, jitter, seed, map_size.
// Slot 0: RG32Float output, map_size x map_size.
func biomeMap(call *Call) error {
	p := call.Params()
	count := p.Uint32()
	worldSize := p.Float32()
	cellScale := p.Float32()
	jitter := p.Float32()
	seed := p.Uint32()
	n := int(p.Uint32())

	out := call.Image(0)
	switch {
	case out == nil:
		return fmt.Errorf("biome_map: output image unbound")
	case count == 0 || cellScale == 0:
		return fmt.Errorf("biome_map: biome count %d cell scale %v", count, cellScale)
	case out.Words() < n*n*2:
		return fmt.Errorf("biome_map: output holds %d words, want %d", out.Words(), n*n*2)
	}

	call.For(n, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			for x := 0; x < n; x++ {
				u := (float32(x)+0.5)/float32(n) - 0.5
				v := (float32(y)+0.5)/float32(n) - 0.5
				px := u * worldSize / cellScale
				py := v * worldSize / cellScale
				bx := int32(math32.Floor(px))
				by := int32(math32.Floor(py))

				d1, d2 := float32(1e9), float32(1e9)
				var id uint32
				for j := int32(-1); j <= 1; j++ {
					for i := int32(-1); i <= 1; i++ {
						cx, cy := bx+i, by+j
						h := hashCell(cx, cy, seed)
						sx := float32(cx) + 0.5 + (unit(h)-0.5)*jitter
						sy := float32(cy) + 0.5 + (unit(hashU32(h))-0.5)*jitter
						d := math32.Hypot(px-sx, py-sy)
						if d < d1 {
							d2 = d1
							d1 = d
							id = hashU32(h^0x9e3779b9) % count
						} else if d < d2 {
							d2 = d
						}
					}
				}

				idx := (y*n + x) * 2
				out.SetFloat32(idx, float32(id))
				out.SetFloat32(idx+1, clamp(d2-d1, 0, 1))
			}
		}
	})
	return nil
}

var noiseCache sync.Map // seed -> *perlin.Perlin

func noiseFor(seed uint32) *perlin.Perlin {
	if v, ok := noiseCache.Load(seed); ok {
		return v.(*perlin.Perlin)
	}
	v, _ := noiseCache.LoadOrStore(seed, perlin.NewPerlin(2, 2, 4, int64(seed)))
	return v.(*perlin.Perlin)
}

// sampleBiome returns the (id, edge distance) texel under world xz.
func sampleBiome(img *Image, worldSize, x, z float32) (uint32, float32) {
	n := int(img.Desc.Size.Width)
	if n == 0 || worldSize == 0 {
		return 0, 1
	}
	u := clamp(x/worldSize+0.5, 0, 0.999999)
	v := clamp(z/worldSize+0.5, 0, 0.999999)
	tx := int(u * float32(n))
	ty := int(v * float32(n))
	idx := (ty*n + tx) * 2
	return uint32(img.Float32(idx)), img.Float32(idx + 1)
}

func biomeHeight(id uint32) float32 {
	return float32(id%5)*12 - 8
}

// terrainSDF fills the signed distance and material ids of one chunk.
// Params: origin xyz, world_size, sea_level, blend_dist, chunk_size, seed.
// Slot 0: biome map. Slot 1: R32Float SDF. Slot 2: R32Uint material.
func terrainSDF(call *Call) error {
	p := call.Params()
	ox, oy, oz := p.Float32(), p.Float32(), p.Float32()
	worldSize := p.Float32()
	seaLevel := p.Float32()
	blend := max(p.Float32(), 1e-4)
	cs := int(p.Uint32())
	seed := p.Uint32()

	biome, sdf, mat := call.Image(0), call.Image(1), call.Image(2)
	if biome == nil || sdf == nil || mat == nil {
		return fmt.Errorf("terrain_sdf: unbound image")
	}
	if sdf.Words() < cs*cs*cs || mat.Words() < cs*cs*cs {
		return fmt.Errorf("terrain_sdf: chunk size %d overflows output", cs)
	}
	noise := noiseFor(seed)

	call.For(cs, func(lo, hi int) {
		heights := make([]float32, cs)
		ids := make([]uint32, cs)
		for z := lo; z < hi; z++ {
			wz := oz + float32(z)
			for x := 0; x < cs; x++ {
				wx := ox + float32(x)
				id, dist := sampleBiome(biome, worldSize, wx, wz)
				h := float32(noise.Noise2D(float64(wx)/256, float64(wz)/256)) * 24
				heights[x] = seaLevel + h + biomeHeight(id)*smoothstep(0, blend, dist)
				ids[x] = id
			}
			for y := 0; y < cs; y++ {
				wy := oy + float32(y)
				for x := 0; x < cs; x++ {
					d := wy - heights[x]
					idx := (z*cs+y)*cs + x
					sdf.SetFloat32(idx, d)
					var m uint32
					if d < 0 {
						m = ids[x] + 1
					}
					mat.SetUint32(idx, m)
				}
			}
		}
	})
	return nil
}

type vegParams struct {
	chunkX, chunkY, chunkZ float32
	spacing                float32
	chunkSize, steps       int32
	seed                   uint32
	vegType                int32
	density, noiseFreq     float32
	slopeMax               float32
	heightMin, heightMax   float32
}

type record [recordWords]uint32

// vegetationPlacement scatters placements over the surface of one chunk.
// Slot 0: chunk SDF. Slot 1: biome map. Slot 2: output buffer holding a
// u32 count followed by 48-byte records.
func vegetationPlacement(call *Call) error {
	r := call.Params()
	vp := vegParams{
		chunkX: r.Float32(), chunkY: r.Float32(), chunkZ: r.Float32(),
		spacing:   r.Float32(),
		chunkSize: r.Int32(), steps: r.Int32(),
		seed:      r.Uint32(),
		vegType:   r.Int32(),
		density:   r.Float32(), noiseFreq: r.Float32(),
		slopeMax:  r.Float32(),
		heightMin: r.Float32(), heightMax: r.Float32(),
	}
	sdf := call.Image(0)
	out := call.Buffer(2)
	cs := int(vp.chunkSize)
	switch {
	case sdf == nil || out == nil:
		return fmt.Errorf("vegetation_placement: unbound resource")
	case cs <= 1 || sdf.Words() < cs*cs*cs:
		return fmt.Errorf("vegetation_placement: chunk size %d does not match SDF", cs)
	case len(out) < 4:
		return fmt.Errorf("vegetation_placement: output buffer too small")
	}

	steps := int(vp.steps)
	rows := make([][]record, steps)
	call.For(steps, func(lo, hi int) {
		for gz := lo; gz < hi; gz++ {
			for gx := 0; gx < steps; gx++ {
				if rec, ok := placeCell(sdf, &vp, uint32(gx), uint32(gz)); ok { //nolint:gosec // grid index
					rows[gz] = append(rows[gz], rec)
				}
			}
		}
	})

	capacity := min(maxPlacements, (len(out)-4)/(recordWords*4))
	var total, written int
	for _, row := range rows {
		for _, rec := range row {
			total++
			if written >= capacity {
				continue
			}
			base := 4 + written*recordWords*4
			for i, w := range rec {
				binary.LittleEndian.PutUint32(out[base+i*4:], w)
			}
			written++
		}
	}
	binary.LittleEndian.PutUint32(out, uint32(total)) //nolint:gosec // bounded by grid size
	return nil
}

func placeCell(sdf *Image, vp *vegParams, gx, gz uint32) (record, bool) {
	cs := vp.chunkSize
	voxel := func(x, y, z int32) float32 {
		x, y, z = clamp(x, 0, cs-1), clamp(y, 0, cs-1), clamp(z, 0, cs-1)
		return sdf.Float32(int((z*cs+y)*cs + x))
	}

	chunkHash := uint32(int32(vp.chunkX))*19349663 ^ uint32(int32(vp.chunkZ))*50331653 //nolint:gosec // hash
	typeHash := uint32(vp.vegType) * 2654435761                                        //nolint:gosec // hash
	cellHash := gx*73856093 ^ gz*83492791
	cellSeed := hashU32(cellHash ^ vp.seed ^ typeHash ^ chunkHash)

	wx := vp.chunkX + float32(gx)*vp.spacing
	wz := vp.chunkZ + float32(gz)*vp.spacing
	patch := 0.75 + 0.25*math32.Sin(wx*vp.noiseFreq)*math32.Cos(wz*vp.noiseFreq)
	if unit(cellSeed) >= vp.density*patch {
		return record{}, false
	}

	lx := (float32(gx) + unit(hashU32(cellSeed^1))) * vp.spacing
	lz := (float32(gz) + unit(hashU32(cellSeed^2))) * vp.spacing
	ix := clamp(int32(lx), 0, cs-1)
	iz := clamp(int32(lz), 0, cs-1)

	surface := int32(-1)
	for y := cs - 1; y > 0; y-- {
		if voxel(ix, y, iz) >= 0 && voxel(ix, y-1, iz) < 0 {
			surface = y
			break
		}
	}
	if surface < 0 {
		return record{}, false
	}

	above := voxel(ix, surface, iz)
	below := voxel(ix, surface-1, iz)
	ly := float32(surface) - above/max(above-below, 1e-6)

	nx := voxel(ix+1, surface, iz) - voxel(ix-1, surface, iz)
	ny := voxel(ix, surface+1, iz) - voxel(ix, surface-1, iz)
	nz := voxel(ix, surface, iz+1) - voxel(ix, surface, iz-1)
	l := math32.Sqrt(nx*nx + ny*ny + nz*nz)
	if l == 0 {
		return record{}, false
	}
	nx, ny, nz = nx/l, ny/l, nz/l
	if ny < math32.Cos(vp.slopeMax*math32.Pi/180) {
		return record{}, false
	}

	px, py, pz := vp.chunkX+lx, vp.chunkY+ly, vp.chunkZ+lz
	if py < vp.heightMin || py > vp.heightMax {
		return record{}, false
	}

	inst := hashU32(cellSeed ^ 3)
	return record{
		math.Float32bits(px), math.Float32bits(py), math.Float32bits(pz), 0,
		math.Float32bits(nx), math.Float32bits(ny), math.Float32bits(nz), 0,
		inst % 4,
		inst,
		math.Float32bits(0.8 + unit(hashU32(inst))*0.4),
		math.Float32bits(unit(hashU32(inst^7)) * 6.2831853),
	}, true
}

// transformPlacement expands placement records into 3x4 row-major
// transforms. Params: count. Slot 0: placement buffer. Slot 1: output.
func transformPlacement(call *Call) error {
	count := int(call.Params().Uint32())
	in, out := call.Buffer(0), call.Buffer(1)
	switch {
	case in == nil || out == nil:
		return fmt.Errorf("transform_placement: unbound buffer")
	case len(in) < 4+count*recordWords*4:
		return fmt.Errorf("transform_placement: %d records overflow input", count)
	case len(out) < count*instanceWords*4:
		return fmt.Errorf("transform_placement: %d transforms overflow output", count)
	}

	word := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:])) }
	call.For(count, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			base := 1 + i*recordWords
			s := word(base + 10)
			sin, cos := math32.Sincos(word(base + 11))
			c, sn := cos*s, sin*s
			row := [instanceWords]float32{
				c, 0, sn, word(base),
				0, s, 0, word(base + 1),
				-sn, 0, c, word(base + 2),
			}
			for j, v := range row {
				binary.LittleEndian.PutUint32(out[(i*instanceWords+j)*4:], math.Float32bits(v))
			}
		}
	})
	return nil
}
