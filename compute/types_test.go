package compute

import "testing"

func TestImageFormatBytesPerTexel(t *testing.T) {
	tests := []struct {
		format ImageFormat
		want   int
		name   string
	}{
		{ImageFormatR32Float, 4, "R32Float"},
		{ImageFormatR32Uint, 4, "R32Uint"},
		{ImageFormatRG32Float, 8, "RG32Float"},
		{ImageFormatRGBA32Float, 16, "RGBA32Float"},
		{ImageFormatUndefined, 0, "Undefined"},
	}
	for _, tt := range tests {
		if got := tt.format.BytesPerTexel(); got != tt.want {
			t.Errorf("%v.BytesPerTexel() = %d, want %d", tt.format, got, tt.want)
		}
		if got := tt.format.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
	}
}

func TestImageDescByteSize(t *testing.T) {
	d := ImageDesc{Size: Extent{Width: 32, Height: 32, Depth: 32}, Format: ImageFormatR32Float}
	if got := d.ByteSize(); got != 32*32*32*4 {
		t.Errorf("expected %d, got %d", 32*32*32*4, got)
	}
	flat := ImageDesc{Size: Extent{Width: 8, Height: 4}, Format: ImageFormatRG32Float}
	if got := flat.ByteSize(); got != 8*4*8 {
		t.Errorf("zero depth should count as 1: expected %d, got %d", 8*4*8, got)
	}
}

func TestWorkgroups(t *testing.T) {
	tests := []struct{ n, size, want int }{
		{32, 4, 8},
		{33, 4, 9},
		{1, 64, 1},
		{0, 64, 0},
		{-1, 8, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := Workgroups(tt.n, tt.size); int(got) != tt.want {
			t.Errorf("Workgroups(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}

func TestParamsRoundTrip(t *testing.T) {
	b := NewParams(16).Float32(1.5).Uint32(7).Int32(-3).Pad(16).Bytes()
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes after padding, got %d", len(b))
	}
	r := ReadParams(b)
	if v := r.Float32(); v != 1.5 {
		t.Errorf("expected 1.5, got %f", v)
	}
	if v := r.Uint32(); v != 7 {
		t.Errorf("expected 7, got %d", v)
	}
	if v := r.Int32(); v != -3 {
		t.Errorf("expected -3, got %d", v)
	}
	r.Uint32()
	if v := r.Uint32(); v != 0 {
		t.Errorf("reading past the end should return 0, got %d", v)
	}
}

func TestBindingKindIsImage(t *testing.T) {
	if !BindingSampledImage.IsImage() || !BindingStorageImage.IsImage() {
		t.Error("image kinds should report IsImage")
	}
	if BindingStorageBuffer.IsImage() || BindingReadOnlyBuffer.IsImage() {
		t.Error("buffer kinds should not report IsImage")
	}
}
