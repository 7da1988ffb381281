package embedding

import "testing"

func TestResizedSizeKeepsAspectWithTruncation(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{500, 375, 341, 256},
		{375, 500, 256, 341},
		{256, 256, 256, 256},
		{1280, 720, 455, 256},
		{10, 30, 256, 768},
	}
	for _, tt := range tests {
		w, h := resizedSize(tt.w, tt.h, 256)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("resizedSize(%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestCropOffsetRoundsHalfToEven(t *testing.T) {
	tests := []struct {
		size, want int
	}{
		{256, 16},
		{341, 58}, // 58.5 rounds to 58
		{343, 60}, // 59.5 rounds to 60
		{224, 0},
		{455, 116}, // 115.5 rounds to 116
	}
	for _, tt := range tests {
		if got := cropOffset(tt.size, 224); got != tt.want {
			t.Errorf("cropOffset(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}
