package retroscan

import (
	"io"
)

const sectorSize = 512

// Span is a contiguous run of sectors.
type Span struct {
	Start int64
	Count int64
}

// VerifySpan read-checks every sector in [absStart, absStart+sectors),
// marking each one on the UI and returning the unreadable ones. The UI is
// redrawn every redrawEvery sectors to keep the scan from being
// draw-bound on fast media.
func VerifySpan(r io.ReaderAt, absStart, sectors int64, u *UI, redrawEvery int) ([]int64, error) {
	if redrawEvery <= 0 {
		redrawEvery = 64
	}
	buf := make([]byte, sectorSize)
	var bad []int64
	for i := int64(0); i < sectors; i++ {
		if u.IsStopped() {
			return bad, ErrInterrupted
		}
		abs := absStart + i
		if _, err := r.ReadAt(buf, abs*sectorSize); err != nil {
			bad = append(bad, abs)
			u.MarkBad(abs)
		} else {
			u.MarkGood(abs)
		}
		if i%int64(redrawEvery) == 0 || i == sectors-1 {
			u.LayoutAndDraw()
		}
	}
	return bad, nil
}

// Collapse merges an ascending bad-sector list into contiguous spans.
func Collapse(bad []int64) []Span {
	var spans []Span
	for _, s := range bad {
		if n := len(spans); n > 0 && spans[n-1].Start+spans[n-1].Count == s {
			spans[n-1].Count++
			continue
		}
		spans = append(spans, Span{Start: s, Count: 1})
	}
	return spans
}

// Exclude splits the span [start, start+count) around the given bad
// spans, returning the surviving sub-spans. Used to propose a working
// media list that skips unreadable runs.
func Exclude(start, count int64, bad []Span) []Span {
	remaining := []Span{{Start: start, Count: count}}
	for _, b := range bad {
		var next []Span
		for _, s := range remaining {
			sEnd := s.Start + s.Count
			bEnd := b.Start + b.Count
			if bEnd <= s.Start || b.Start >= sEnd {
				next = append(next, s)
				continue
			}
			if b.Start > s.Start {
				next = append(next, Span{Start: s.Start, Count: b.Start - s.Start})
			}
			if bEnd < sEnd {
				next = append(next, Span{Start: bEnd, Count: sEnd - bEnd})
			}
		}
		remaining = next
	}
	return remaining
}
