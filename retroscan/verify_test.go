package retroscan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/google/go-cmp/cmp"
)

func newTestUI(t *testing.T, totalSectors int64) *UI {
	t.Helper()
	s := tcell.NewSimulationScreen("UTF-8")
	if err := s.Init(); err != nil {
		t.Fatalf("simulation screen: %v", err)
	}
	u := newUIWithScreen(s, totalSectors)
	t.Cleanup(u.Close)
	return u
}

// flakyReader fails every sector whose index is in bad.
type flakyReader struct {
	data []byte
	bad  map[int64]bool
}

func (r *flakyReader) ReadAt(p []byte, off int64) (int, error) {
	if r.bad[off/sectorSize] {
		return 0, fmt.Errorf("sector %d: %w", off/sectorSize, io.ErrUnexpectedEOF)
	}
	return bytes.NewReader(r.data).ReadAt(p, off)
}

func TestVerifySpan(t *testing.T) {
	const sectors = 200
	r := &flakyReader{
		data: make([]byte, sectors*sectorSize),
		bad:  map[int64]bool{17: true, 18: true, 19: true, 150: true},
	}
	u := newTestUI(t, sectors)

	bad, err := VerifySpan(r, 0, sectors, u, 16)
	if err != nil {
		t.Fatalf("VerifySpan: %v", err)
	}
	if diff := cmp.Diff([]int64{17, 18, 19, 150}, bad); diff != "" {
		t.Errorf("bad sectors mismatch (-want +got):\n%s", diff)
	}
	good, badCount := u.Counts()
	if good != sectors-4 || badCount != 4 {
		t.Errorf("Counts() = %d, %d, want %d, 4", good, badCount, sectors-4)
	}
}

func TestVerifySpanInterrupt(t *testing.T) {
	r := &flakyReader{data: make([]byte, 64*sectorSize)}
	u := newTestUI(t, 64)
	u.RequestStop()

	_, err := VerifySpan(r, 0, 64, u, 16)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("VerifySpan after stop: got %v, want ErrInterrupted", err)
	}
}

func TestCollapse(t *testing.T) {
	tests := []struct {
		name string
		bad  []int64
		want []Span
	}{
		{"empty", nil, nil},
		{"single", []int64{5}, []Span{{5, 1}}},
		{"run", []int64{5, 6, 7}, []Span{{5, 3}}},
		{"gaps", []int64{5, 6, 9, 20, 21}, []Span{{5, 2}, {9, 1}, {20, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Collapse(tt.bad)); diff != "" {
				t.Errorf("Collapse(%v) mismatch (-want +got):\n%s", tt.bad, diff)
			}
		})
	}
}

func TestExclude(t *testing.T) {
	tests := []struct {
		name         string
		start, count int64
		bad          []Span
		want         []Span
	}{
		{"no bad spans", 0, 100, nil, []Span{{0, 100}}},
		{"middle hole", 0, 100, []Span{{40, 10}}, []Span{{0, 40}, {50, 50}}},
		{"leading hole", 0, 100, []Span{{0, 5}}, []Span{{5, 95}}},
		{"trailing hole", 0, 100, []Span{{95, 5}}, []Span{{0, 95}}},
		{"bad outside span", 100, 50, []Span{{10, 5}, {200, 5}}, []Span{{100, 50}}},
		{"two holes", 0, 100, []Span{{10, 5}, {50, 10}}, []Span{{0, 10}, {15, 35}, {60, 40}}},
		{"hole straddles start", 100, 50, []Span{{90, 20}}, []Span{{110, 40}}},
		{"everything bad", 10, 20, []Span{{0, 100}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Exclude(tt.start, tt.count, tt.bad)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Exclude(%d, %d, %v) mismatch (-want +got):\n%s",
					tt.start, tt.count, tt.bad, diff)
			}
		})
	}
}
