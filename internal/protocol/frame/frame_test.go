package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestTryExtractWithoutDelimiterKeepsBuffer(t *testing.T) {
	for _, in := range [][]byte{nil, {}, []byte("partial"), []byte("ends with cr\r"), []byte("\n\r")} {
		frm, rest, ok := TryExtract(in)
		if ok || frm != nil {
			t.Fatalf("expected no frame for %q, got %q", in, frm)
		}
		if !bytes.Equal(rest, in) {
			t.Fatalf("expected remainder %q, got %q", in, rest)
		}
	}
}

func TestTryExtractSplitsAtFirstDelimiter(t *testing.T) {
	in := []byte("hello\r\nworld")
	frm, rest, ok := TryExtract(in)
	if !ok {
		t.Fatalf("expected frame")
	}
	if string(frm) != "hello" {
		t.Fatalf("unexpected frame: %q", frm)
	}
	if string(rest) != "world" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
	if string(in) != "hello\r\nworld" {
		t.Fatalf("input mutated: %q", in)
	}
}

func TestTryExtractZeroLengthFrame(t *testing.T) {
	frm, rest, ok := TryExtract([]byte("\r\nnext"))
	if !ok {
		t.Fatalf("expected empty frame to be returned")
	}
	if frm == nil || len(frm) != 0 {
		t.Fatalf("expected zero-length non-nil frame, got %#v", frm)
	}
	if string(rest) != "next" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
}

func TestTryExtractConsumesOnlyFirstDelimiter(t *testing.T) {
	frm, rest, ok := TryExtract([]byte("x\r\ny\r\n"))
	if !ok || string(frm) != "x" {
		t.Fatalf("unexpected first frame: ok=%v frm=%q", ok, frm)
	}
	if string(rest) != "y\r\n" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
	frm, rest, ok = TryExtract(rest)
	if !ok || string(frm) != "y" || len(rest) != 0 {
		t.Fatalf("unexpected second frame: ok=%v frm=%q rest=%q", ok, frm, rest)
	}
}

func TestTryExtractIsIdempotent(t *testing.T) {
	in := []byte("abc\r\ndef")
	frmA, restA, okA := TryExtract(in)
	frmB, restB, okB := TryExtract(in)
	if okA != okB || !bytes.Equal(frmA, frmB) || !bytes.Equal(restA, restB) {
		t.Fatalf("expected identical results, a=(%q,%q,%v) b=(%q,%q,%v)", frmA, restA, okA, frmB, restB, okB)
	}

	frmA[0] = 'z'
	if in[0] != 'a' {
		t.Fatalf("frame aliases input buffer")
	}
}

func TestTryExtractAcrossPartialAppends(t *testing.T) {
	whole := []byte("split across reads\r\ntail")
	want, wantRest, _ := TryExtract(whole)

	for chunk := 1; chunk <= len(whole); chunk++ {
		var buf []byte
		var got []byte
		found := false
		for off := 0; off < len(whole); off += chunk {
			end := off + chunk
			if end > len(whole) {
				end = len(whole)
			}
			buf = append(buf, whole[off:end]...)
			if found {
				continue
			}
			frm, rest, ok := TryExtract(buf)
			if ok {
				got = frm
				buf = append([]byte(nil), rest...)
				found = true
			}
		}
		if !found {
			t.Fatalf("chunk=%d: frame never extracted", chunk)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk=%d: got %q want %q", chunk, got, want)
		}
		if !bytes.Equal(buf, wantRest) {
			t.Fatalf("chunk=%d: remainder %q want %q", chunk, buf, wantRest)
		}
	}
}

func TestTryExtractDelimiterSplitBetweenReads(t *testing.T) {
	buf := []byte("ab\r")
	if _, rest, ok := TryExtract(buf); ok || string(rest) != "ab\r" {
		t.Fatalf("expected pending partial delimiter, ok=%v rest=%q", ok, rest)
	}
	buf = append(buf, '\n')
	frm, rest, ok := TryExtract(buf)
	if !ok || string(frm) != "ab" || len(rest) != 0 {
		t.Fatalf("unexpected frame after completing delimiter: ok=%v frm=%q rest=%q", ok, frm, rest)
	}
}

func TestSplitDrainsAllFrames(t *testing.T) {
	frames, rest := Split([]byte("one\r\n\r\nthree\r\nfour"))
	if len(frames) != 3 {
		t.Fatalf("unexpected frame count: %d", len(frames))
	}
	if string(frames[0]) != "one" || len(frames[1]) != 0 || string(frames[2]) != "three" {
		t.Fatalf("unexpected frames: %q", frames)
	}
	if string(rest) != "four" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
}

func TestAppendEncodesFrame(t *testing.T) {
	out := Append([]byte("a\r\n"), []byte("b"))
	if string(out) != "a\r\nb\r\n" {
		t.Fatalf("unexpected encoding: %q", out)
	}
}

func TestLimitsCheck(t *testing.T) {
	limits := Limits{MaxFrameBytes: 4}
	if err := limits.Check(4); err != nil {
		t.Fatalf("expected limit to be inclusive, got %v", err)
	}
	if err := limits.Check(5); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if err := (Limits{}).Check(1 << 30); err != nil {
		t.Fatalf("expected zero limit to disable check, got %v", err)
	}
	if DefaultLimits().MaxFrameBytes != 8*1024*1024 {
		t.Fatalf("unexpected default limit: %d", DefaultLimits().MaxFrameBytes)
	}
}
