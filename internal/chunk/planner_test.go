package chunk

import (
	"errors"
	"testing"
)

func TestBuildPageCountExample(t *testing.T) {
	plan, err := Build(10, ModePageCount, 3, 0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	want := [][2]int{{0, 3}, {3, 6}, {6, 9}, {9, 10}}
	if plan.Len() != len(want) {
		t.Fatalf("unexpected chunk count: %d", plan.Len())
	}
	for i, c := range plan.Chunks {
		if c.Start != want[i][0] || c.End != want[i][1] {
			t.Fatalf("chunk %d = [%d,%d), want [%d,%d)", i, c.Start, c.End, want[i][0], want[i][1])
		}
		if c.Index != i+1 {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestBuildPageCountCoverage(t *testing.T) {
	for total := 2; total <= 60; total++ {
		for k := 1; k < total; k++ {
			plan, err := Build(total, ModePageCount, int64(k), 0)
			if err != nil {
				t.Fatalf("Build(%d, %d) returned error: %v", total, k, err)
			}
			wantCount := (total + k - 1) / k
			if plan.Len() != wantCount {
				t.Fatalf("Build(%d, %d) produced %d chunks, want %d", total, k, plan.Len(), wantCount)
			}
			next := 0
			for _, c := range plan.Chunks {
				if c.Start != next {
					t.Fatalf("Build(%d, %d): chunk %d starts at %d, want %d", total, k, c.Index, c.Start, next)
				}
				if c.Pages() < 1 || c.Pages() > k {
					t.Fatalf("Build(%d, %d): chunk %d has %d pages", total, k, c.Index, c.Pages())
				}
				next = c.End
			}
			if next != total {
				t.Fatalf("Build(%d, %d): coverage ends at %d", total, k, next)
			}
		}
	}
}

func TestBuildByteSizeExample(t *testing.T) {
	const mib = 1 << 20
	plan, err := Build(20, ModeByteSize, 10*mib, 40*mib)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if plan.AvgPageBytes != 2*mib {
		t.Fatalf("unexpected average page size: %v", plan.AvgPageBytes)
	}
	if plan.PagesPerChunk != 5 {
		t.Fatalf("unexpected pages per chunk: %d", plan.PagesPerChunk)
	}
	if plan.Len() != 4 {
		t.Fatalf("unexpected chunk count: %d", plan.Len())
	}
	for _, c := range plan.Chunks {
		if c.Pages() != 5 {
			t.Fatalf("chunk %d has %d pages", c.Index, c.Pages())
		}
	}
	if plan.Estimated {
		t.Fatal("plan should not be marked as estimated when the document size is known")
	}
}

func TestBuildByteSizeFallback(t *testing.T) {
	plan, err := Build(10, ModeByteSize, 3*1024*1024, 0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !plan.Estimated {
		t.Fatal("expected fallback estimate to be used")
	}
	if plan.PagesPerChunk != 2 {
		t.Fatalf("unexpected pages per chunk: %d", plan.PagesPerChunk)
	}
	if plan.Len() != 5 {
		t.Fatalf("unexpected chunk count: %d", plan.Len())
	}
}

func TestBuildByteSizeAtLeastOnePage(t *testing.T) {
	plan, err := Build(3, ModeByteSize, 1, 30*1024*1024)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if plan.PagesPerChunk != 1 || plan.Len() != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestBuildByteSizeSingleChunk(t *testing.T) {
	plan, err := Build(4, ModeByteSize, 100*1024*1024, 1024)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if plan.Len() != 1 || plan.Chunks[0].Pages() != 4 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestBuildRejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		name  string
		total int
		mode  Mode
		param int64
	}{
		{"zero pages", 0, ModePageCount, 1},
		{"negative pages", -3, ModeByteSize, 1},
		{"zero param", 10, ModePageCount, 0},
		{"negative bytes", 10, ModeByteSize, -1},
		{"chunk equals total", 10, ModePageCount, 10},
		{"chunk exceeds total", 10, ModePageCount, 25},
		{"unknown mode", 10, Mode("lines"), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Build(tc.total, tc.mode, tc.param, 0)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
			if plan != nil {
				t.Fatalf("expected no plan, got %+v", plan)
			}
		})
	}
}

func TestChunkLabelsAreZeroPadded(t *testing.T) {
	plan, err := Build(100, ModePageCount, 10, 0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if got := plan.Chunks[0].Label; got != "01" {
		t.Fatalf("first label = %q", got)
	}
	if got := plan.Chunks[9].Label; got != "10" {
		t.Fatalf("last label = %q", got)
	}
	if got := plan.Chunks[2].Filename("report.pdf"); got != "03_report.pdf" {
		t.Fatalf("unexpected filename: %s", got)
	}

	small, err := Build(9, ModePageCount, 1, 0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if got := small.Chunks[8].Label; got != "9" {
		t.Fatalf("single digit label = %q", got)
	}
}

func TestChunkPageSelection(t *testing.T) {
	c := Chunk{Index: 2, Start: 3, End: 6}
	got := c.PageSelection()
	want := []string{"4", "5", "6"}
	if len(got) != len(want) {
		t.Fatalf("unexpected selection: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
