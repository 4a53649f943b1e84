// Package frame parses the FrameDescription sub-file: a small fixed header
// followed by a flat array of 64-bit offsets mapping scan-point index to a
// pattern's start offset inside FrameData.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// Missing is the sentinel offset meaning "no pattern recorded at this grid
// cell".
const Missing uint64 = 0xFFFFFFFFFFFFFFFF

const headerSize = 12

// Description holds the decoded FrameDescription contents: the declared
// grid dimensions and one offset per scan point, in row-major grid order
// (the offset for cell (x, y) is Offsets[y*Width+x]).
type Description struct {
	Width, Height int32
	Offsets       []uint64
}

// Parse decodes the 12-byte header (width, height, patternCount) followed
// by patternCount 64-bit little-endian offsets. Offsets are always decoded
// as a fixed-width uint64, never a host-sized type, per spec §9 open
// question (d): a host size_t read would misbehave on 32-bit hosts.
func Parse(r io.Reader) (*Description, error) {
	const op = "frame.Parse"

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	width := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	height := int32(binary.LittleEndian.Uint32(hdr[4:8]))
	count := int32(binary.LittleEndian.Uint32(hdr[8:12]))
	if width < 0 || height < 0 || count < 0 {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}

	offsets := make([]uint64, count)
	buf := make([]byte, 8*count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}

	return &Description{Width: width, Height: height, Offsets: offsets}, nil
}
