// Package indexing sequentially scans the IndexingResults blob of 30-byte
// fixed records and populates per-scan-point arrays.
package indexing

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

const recordSize = 30

// Results holds the decoded, per-scan-point parallel arrays. Index i
// across every slice refers to the same scan point.
type Results struct {
	MapWidth, MapHeight int32

	// Positions holds (xIndex, yIndex) pairs packed as Positions[2i],
	// Positions[2i+1].
	Positions []int32

	// Eulers holds (phi1, PHI, phi2) in radians, already transformed per
	// spec §4.3's bit-exact formula.
	Eulers []float32

	RadonQuality  []float32
	BandCount     []uint16
	Phase         []int16
	IndexedBands  []uint16
	MAD           []float32

	MinX, MinY, MaxX, MaxY int32
	Count                  int
}

type record struct {
	XIndex        uint16
	YIndex        uint16
	RadonQuality  float32
	DetectedBands uint16
	Euler1        float32
	Euler2        float32
	Euler3        float32
	Phase         int16
	IndexedBands  uint16
	MAD           float32
}

func decodeRecord(b []byte) record {
	return record{
		XIndex:        binary.LittleEndian.Uint16(b[0:2]),
		YIndex:        binary.LittleEndian.Uint16(b[2:4]),
		RadonQuality:  math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		DetectedBands: binary.LittleEndian.Uint16(b[8:10]),
		Euler1:        math.Float32frombits(binary.LittleEndian.Uint32(b[10:14])),
		Euler2:        math.Float32frombits(binary.LittleEndian.Uint32(b[14:18])),
		Euler3:        math.Float32frombits(binary.LittleEndian.Uint32(b[18:22])),
		Phase:         int16(binary.LittleEndian.Uint16(b[22:24])),
		IndexedBands:  binary.LittleEndian.Uint16(b[24:26]),
		MAD:           math.Float32frombits(binary.LittleEndian.Uint32(b[26:30])),
	}
}

// Load scans indexingResults in 30-byte strides over a mapWidth x
// mapHeight grid given by the caller, populating the destination index
// chosen by reorder: scan order (reorder=false) or mapWidth*yIndex+xIndex
// (reorder=true). It does not read a FrameDescription header; the grid
// dimensions are taken as passed.
func Load(indexingResults io.Reader, mapWidth, mapHeight int32, reorder bool) (*Results, error) {
	const op = "indexing.Load"

	gridCap := int(mapWidth) * int(mapHeight)
	if gridCap < 0 {
		gridCap = 0
	}
	res := &Results{
		MapWidth:  mapWidth,
		MapHeight: mapHeight,
		Positions: make([]int32, 2*gridCap),
		Eulers:    make([]float32, 3*gridCap),
		RadonQuality: make([]float32, gridCap),
		BandCount:    make([]uint16, gridCap),
		Phase:        make([]int16, gridCap),
		IndexedBands: make([]uint16, gridCap),
		MAD:          make([]float32, gridCap),
	}

	buf := make([]byte, recordSize)
	counter := 0
	first := true
	for {
		if _, err := io.ReadFull(indexingResults, buf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		r := decodeRecord(buf)

		x, y := int32(r.XIndex), int32(r.YIndex)
		if first {
			res.MinX, res.MaxX, res.MinY, res.MaxY = x, x, y, y
			first = false
		} else {
			if x < res.MinX {
				res.MinX = x
			}
			if x > res.MaxX {
				res.MaxX = x
			}
			if y < res.MinY {
				res.MinY = y
			}
			if y > res.MaxY {
				res.MaxY = y
			}
		}

		dest := counter
		if reorder {
			dest = int(mapWidth)*int(y) + int(x)
		}
		counter++
		if dest < 0 || dest >= gridCap {
			// A record addressing outside the declared grid is a format
			// inconsistency between FrameDescription and IndexingResults.
			return nil, bcferr.New(bcferr.InvalidFormat, op)
		}

		res.Positions[2*dest] = x
		res.Positions[2*dest+1] = y
		// Euler transformation (bit-exact, radians): out_phi1 = pi -
		// euler3, out_PHI = euler2, out_phi2 = pi - euler1.
		res.Eulers[3*dest+0] = float32(math.Pi) - r.Euler3
		res.Eulers[3*dest+1] = r.Euler2
		res.Eulers[3*dest+2] = float32(math.Pi) - r.Euler1
		res.RadonQuality[dest] = r.RadonQuality
		res.BandCount[dest] = r.DetectedBands
		res.Phase[dest] = r.Phase
		res.IndexedBands[dest] = r.IndexedBands
		res.MAD[dest] = r.MAD
	}
	res.Count = counter
	return res, nil
}
