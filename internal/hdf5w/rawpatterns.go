package hdf5w

import (
	"github.com/scigolib/hdf5"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// PatternDataset is the "RawPatterns" 3-D dataset: initial shape
// [mapWidth, patternHeight, patternWidth], growing one row of mapWidth
// patterns at a time up to [mapWidth*mapHeight, patternHeight, patternWidth].
//
// The underlying library's chunked DatasetWriter.Write rewrites every
// chunk implied by a buffer sized to the dataset's current total
// dimensions rather than accepting a true hyperslab byte range (see
// DESIGN.md). This type compensates by keeping the accumulated row
// buffer for the dataset's full lifetime and reissuing Resize+Write with
// the buffer-so-far on every row; the buffer never exceeds the final
// dataset size.
type PatternDataset struct {
	ds *hdf5.DatasetWriter

	mapWidth, mapHeight           int
	patternWidth, patternHeight   int
	pixelBytes                    int
	rowsWritten                   int
	buf                           []byte
}

// CreatePatternDataset creates RawPatterns under g with the shape and
// chunking spec §4.4 specifies, typed u8 or u16 according to pixelBytes.
func (g *Group) CreatePatternDataset(mapWidth, mapHeight, patternWidth, patternHeight, pixelBytes int) (*PatternDataset, error) {
	const op = "hdf5w.CreatePatternDataset"

	dtype := hdf5.Uint8
	if pixelBytes == 2 {
		dtype = hdf5.Uint16
	}

	initial := []uint64{uint64(mapWidth), uint64(patternHeight), uint64(patternWidth)}
	maxDims := []uint64{uint64(mapWidth * mapHeight), uint64(patternHeight), uint64(patternWidth)}
	chunk := []uint64{uint64(mapWidth), uint64(patternHeight), uint64(patternWidth)}

	ds, err := g.f.fw.CreateDataset(g.child("RawPatterns"), dtype, initial,
		hdf5.WithChunkDims(chunk), hdf5.WithMaxDims(maxDims))
	if err != nil {
		return nil, bcferr.Wrap(bcferr.HdfWrite, op, err)
	}

	total := mapWidth * mapHeight * patternHeight * patternWidth * pixelBytes
	return &PatternDataset{
		ds:            ds,
		mapWidth:      mapWidth,
		mapHeight:     mapHeight,
		patternWidth:  patternWidth,
		patternHeight: patternHeight,
		pixelBytes:    pixelBytes,
		buf:           make([]byte, 0, total),
	}, nil
}

// WriteRow appends one row of mapWidth*patternHeight*patternWidth*pixelBytes
// bytes, extends the dataset to cover it, and rewrites the accumulated
// buffer. row must already reflect the flip and zero-fill-for-missing
// transforms described in spec §4.4; this type only handles extend/write.
func (p *PatternDataset) WriteRow(row []byte) error {
	const op = "hdf5w.PatternDataset.WriteRow"

	rowBytes := p.mapWidth * p.patternHeight * p.patternWidth * p.pixelBytes
	if len(row) != rowBytes {
		return bcferr.New(bcferr.Io, op)
	}

	p.buf = append(p.buf, row...)
	p.rowsWritten++

	newDims := []uint64{
		uint64(p.mapWidth * p.rowsWritten),
		uint64(p.patternHeight),
		uint64(p.patternWidth),
	}
	if err := p.ds.Resize(newDims); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}

	data, err := bytesToTyped(p.buf, p.pixelBytes)
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := p.ds.Write(data); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// bytesToTyped reinterprets a little-endian byte buffer as []uint8 or
// []uint16 depending on pixelBytes, matching the dataset's declared type.
func bytesToTyped(b []byte, pixelBytes int) (interface{}, error) {
	if pixelBytes == 1 {
		return b, nil
	}
	if pixelBytes != 2 {
		return nil, bcferr.New(bcferr.Unsupported, "hdf5w.bytesToTyped")
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return out, nil
}
