package dataset_test

import (
	"fmt"
	"testing"

	"shelflife/internal/dataset"
)

func makeSamples(n int) []dataset.Sample {
	out := make([]dataset.Sample, n)
	for i := range out {
		out[i] = dataset.Sample{Path: fmt.Sprintf("img_%03d.png", i), Label: float64(i % 7)}
	}
	return out
}

func TestSplitSizesAndDisjointness(t *testing.T) {
	tests := []struct {
		n, wantTest int
	}{
		{5, 1},
		{10, 2},
		{11, 3},
		{100, 20},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			samples := makeSamples(tt.n)
			train, test, err := dataset.Split(samples, 0.2, 42)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(test) != tt.wantTest || len(train) != tt.n-tt.wantTest {
				t.Fatalf("got train=%d test=%d", len(train), len(test))
			}
			seen := map[string]bool{}
			for _, s := range append(append([]dataset.Sample{}, train...), test...) {
				if seen[s.Path] {
					t.Fatalf("sample %s appears twice", s.Path)
				}
				seen[s.Path] = true
			}
			if len(seen) != tt.n {
				t.Fatalf("expected union of %d samples, got %d", tt.n, len(seen))
			}
		})
	}
}

func TestSplitIsStableForSeed(t *testing.T) {
	samples := makeSamples(40)
	trainA, testA, _ := dataset.Split(samples, 0.2, 42)
	trainB, testB, _ := dataset.Split(samples, 0.2, 42)
	for i := range testA {
		if testA[i] != testB[i] {
			t.Fatalf("test split differs at %d", i)
		}
	}
	for i := range trainA {
		if trainA[i] != trainB[i] {
			t.Fatalf("train split differs at %d", i)
		}
	}

	_, testC, _ := dataset.Split(samples, 0.2, 7)
	same := true
	for i := range testA {
		if testA[i] != testC[i] {
			same = false
		}
	}
	if same {
		t.Fatal("expected a different seed to change the partition")
	}
	if samples[0].Path != "img_000.png" {
		t.Fatal("Split reordered its input")
	}
}

func TestSplitRejectsDegenerateInput(t *testing.T) {
	if _, _, err := dataset.Split(makeSamples(1), 0.2, 42); err == nil {
		t.Fatal("expected error for a single sample")
	}
	if _, _, err := dataset.Split(makeSamples(10), 0, 42); err == nil {
		t.Fatal("expected error for zero ratio")
	}
	if _, _, err := dataset.Split(makeSamples(10), 1, 42); err == nil {
		t.Fatal("expected error for ratio one")
	}
}

func TestChoose(t *testing.T) {
	samples := makeSamples(8)
	a := dataset.Choose(samples, 5, 42)
	b := dataset.Choose(samples, 5, 42)
	if len(a) != 5 {
		t.Fatalf("expected 5 picks, got %d", len(a))
	}
	seen := map[string]bool{}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("Choose is not deterministic")
		}
		if seen[a[i].Path] {
			t.Fatal("Choose picked a sample twice")
		}
		seen[a[i].Path] = true
	}
	if got := dataset.Choose(samples[:3], 5, 42); len(got) != 3 {
		t.Fatalf("expected picks clamped to 3, got %d", len(got))
	}
	if got := dataset.Choose(samples, 0, 42); got != nil {
		t.Fatal("expected nil for zero picks")
	}
}
