// Package pattern streams diffraction pattern data row-by-row from the
// chunked SFS archive into the HDF5 RawPatterns dataset, per spec §4.4.
package pattern

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
	"github.com/BlueQuartzSoftware/BCFTools/internal/frame"
)

// patternHeaderSize is the per-pattern header skipped before pixel data:
// offset+25 is where the raw pixel bytes begin.
const patternHeaderSize = 25

// Source provides random access to one sub-file's logical byte stream,
// satisfied by *sfs.NodeReader.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Sink receives one fully-assembled row at a time.
type Sink interface {
	WriteRow(row []byte) error
}

// Params bundles the grid and pattern geometry the streaming loop needs.
type Params struct {
	MapWidth, MapHeight         int
	PatternWidth, PatternHeight int
	PixelBytes                  int
	FlipPatterns                bool

	// Parallel, when true, reads the columns of a row concurrently.
	// Spec allows this since row writes are the only cross-iteration
	// dependency; per-row ordering into the HDF5 slab stays deterministic
	// because WriteRow is only called after every column in that row
	// has finished.
	Parallel bool
}

// Stream reads the frame-description offsets and, row by row, fills a
// buffer of mapWidth patterns (zero-filled for missing offsets,
// vertically flipped if requested) and writes it to sink. Missing
// offsets are any entry equal to frame.Missing. ctx is checked between
// rows so a SIGINT-canceled run stops before starting another row's
// reads rather than running to completion.
func Stream(ctx context.Context, desc *frame.Description, src Source, sink Sink, p Params) error {
	const op = "pattern.Stream"

	patternBytes := p.PatternWidth * p.PatternHeight * p.PixelBytes
	if len(desc.Offsets) != p.MapWidth*p.MapHeight {
		return bcferr.New(bcferr.InvalidFormat, op)
	}

	rowBuf := make([]byte, p.MapWidth*patternBytes)
	var patBuf []byte
	if !p.Parallel {
		patBuf = make([]byte, patternBytes)
	}

	for y := 0; y < p.MapHeight; y++ {
		if err := ctx.Err(); err != nil {
			return bcferr.Wrap(bcferr.Io, op, err)
		}
		for i := range rowBuf {
			rowBuf[i] = 0
		}

		var err error
		if p.Parallel {
			err = fillRowParallel(desc, src, rowBuf, y, patternBytes, p)
		} else {
			err = fillRowSequential(desc, src, rowBuf, patBuf, y, patternBytes, p)
		}
		if err != nil {
			return err
		}

		if err := sink.WriteRow(rowBuf); err != nil {
			return err
		}
	}
	return nil
}

func fillRowSequential(desc *frame.Description, src Source, rowBuf, patBuf []byte, y, patternBytes int, p Params) error {
	const op = "pattern.fillRowSequential"
	for x := 0; x < p.MapWidth; x++ {
		off := desc.Offsets[y*p.MapWidth+x]
		dst := rowBuf[x*patternBytes : (x+1)*patternBytes]
		if off == frame.Missing {
			continue
		}
		if _, err := src.ReadAt(patBuf, int64(off)+patternHeaderSize); err != nil && err != io.EOF {
			return bcferr.Wrap(bcferr.Truncated, op, err)
		}
		if p.FlipPatterns {
			flipVertical(patBuf, dst, p.PatternWidth, p.PatternHeight, p.PixelBytes)
		} else {
			copy(dst, patBuf)
		}
	}
	return nil
}

func fillRowParallel(desc *frame.Description, src Source, rowBuf []byte, y, patternBytes int, p Params) error {
	const op = "pattern.fillRowParallel"
	var g errgroup.Group
	for x := 0; x < p.MapWidth; x++ {
		x := x
		off := desc.Offsets[y*p.MapWidth+x]
		if off == frame.Missing {
			continue
		}
		dst := rowBuf[x*patternBytes : (x+1)*patternBytes]
		g.Go(func() error {
			buf := make([]byte, patternBytes)
			if _, err := src.ReadAt(buf, int64(off)+patternHeaderSize); err != nil && err != io.EOF {
				return bcferr.Wrap(bcferr.Truncated, op, err)
			}
			if p.FlipPatterns {
				flipVertical(buf, dst, p.PatternWidth, p.PatternHeight, p.PixelBytes)
			} else {
				copy(dst, buf)
			}
			return nil
		})
	}
	return g.Wait()
}

// flipVertical reverses the row order of a patternWidth x patternHeight
// image of pixelBytes-wide pixels from src into dst.
func flipVertical(src, dst []byte, width, height, pixelBytes int) {
	rowBytes := width * pixelBytes
	for row := 0; row < height; row++ {
		srcOff := row * rowBytes
		dstOff := (height - 1 - row) * rowBytes
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
	}
}
