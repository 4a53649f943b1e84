package pattern

import (
	"bytes"
	"context"
	"testing"

	"github.com/BlueQuartzSoftware/BCFTools/internal/frame"
)

// fakeSource is an in-memory io.ReaderAt-alike backing store for tests.
type fakeSource struct {
	data []byte
}

func (f *fakeSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

// rowCollector records each row passed to WriteRow for assertions.
type rowCollector struct {
	rows [][]byte
}

func (c *rowCollector) WriteRow(row []byte) error {
	cp := make([]byte, len(row))
	copy(cp, row)
	c.rows = append(c.rows, cp)
	return nil
}

// TestStreamSinglePatternNoFlip mirrors spec's concrete scenario: a single
// 4x4 u8 pattern with values 0..15, mapWidth=mapHeight=1.
func TestStreamSinglePatternNoFlip(t *testing.T) {
	header := make([]byte, 25)
	pixels := make([]byte, 16)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	data := append(header, pixels...)

	desc := &frame.Description{Width: 4, Height: 4, Offsets: []uint64{0}}
	src := &fakeSource{data: data}
	var sink rowCollector

	err := Stream(context.Background(), desc, src, &sink, Params{
		MapWidth: 1, MapHeight: 1,
		PatternWidth: 4, PatternHeight: 4,
		PixelBytes: 1,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(sink.rows))
	}
	if !bytes.Equal(sink.rows[0], pixels) {
		t.Fatalf("row = %v, want %v", sink.rows[0], pixels)
	}
}

func TestStreamSinglePatternFlip(t *testing.T) {
	header := make([]byte, 25)
	pixels := make([]byte, 16)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	data := append(header, pixels...)

	want := []byte{12, 13, 14, 15, 8, 9, 10, 11, 4, 5, 6, 7, 0, 1, 2, 3}

	desc := &frame.Description{Width: 4, Height: 4, Offsets: []uint64{0}}
	src := &fakeSource{data: data}
	var sink rowCollector

	err := Stream(context.Background(), desc, src, &sink, Params{
		MapWidth: 1, MapHeight: 1,
		PatternWidth: 4, PatternHeight: 4,
		PixelBytes: 1, FlipPatterns: true,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !bytes.Equal(sink.rows[0], want) {
		t.Fatalf("flipped row = %v, want %v", sink.rows[0], want)
	}
}

func TestStreamMissingPatternZeroFills(t *testing.T) {
	desc := &frame.Description{Width: 2, Height: 2, Offsets: []uint64{frame.Missing}}
	src := &fakeSource{data: make([]byte, 0)}
	var sink rowCollector

	err := Stream(context.Background(), desc, src, &sink, Params{
		MapWidth: 1, MapHeight: 1,
		PatternWidth: 2, PatternHeight: 2,
		PixelBytes: 1,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := make([]byte, 4)
	if !bytes.Equal(sink.rows[0], want) {
		t.Fatalf("row = %v, want all-zero", sink.rows[0])
	}
}

func TestStreamStopsOnCanceledContext(t *testing.T) {
	header := make([]byte, 25)
	pixels := make([]byte, 4)
	data := append(header, pixels...)

	desc := &frame.Description{Width: 2, Height: 2, Offsets: []uint64{0, 0, 0, 0}}
	src := &fakeSource{data: data}
	var sink rowCollector

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Stream(ctx, desc, src, &sink, Params{
		MapWidth: 2, MapHeight: 2,
		PatternWidth: 2, PatternHeight: 2,
		PixelBytes: 1,
	})
	if err == nil {
		t.Fatal("Stream: want error on already-canceled context, got nil")
	}
	if len(sink.rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0 rows written after cancellation", len(sink.rows))
	}
}

func TestStreamParallelMatchesSequential(t *testing.T) {
	header := make([]byte, 25)
	pixels := make([]byte, 4)
	for i := range pixels {
		pixels[i] = byte(10 + i)
	}
	patternSize := int64(len(header) + len(pixels))
	var data []byte
	offsets := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		offsets[i] = uint64(int64(i) * patternSize)
		data = append(data, header...)
		data = append(data, pixels...)
	}

	desc := &frame.Description{Width: 2, Height: 2, Offsets: offsets}

	var seq, par rowCollector
	seqErr := Stream(context.Background(), desc, &fakeSource{data: data}, &seq, Params{
		MapWidth: 2, MapHeight: 2, PatternWidth: 2, PatternHeight: 2, PixelBytes: 1,
	})
	parErr := Stream(context.Background(), desc, &fakeSource{data: data}, &par, Params{
		MapWidth: 2, MapHeight: 2, PatternWidth: 2, PatternHeight: 2, PixelBytes: 1, Parallel: true,
	})
	if seqErr != nil || parErr != nil {
		t.Fatalf("errors: seq=%v par=%v", seqErr, parErr)
	}
	if len(seq.rows) != len(par.rows) {
		t.Fatalf("row count mismatch: %d vs %d", len(seq.rows), len(par.rows))
	}
	for i := range seq.rows {
		if !bytes.Equal(seq.rows[i], par.rows[i]) {
			t.Fatalf("row %d mismatch: sequential=%v parallel=%v", i, seq.rows[i], par.rows[i])
		}
	}
}
