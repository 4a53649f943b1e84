package bcfxml

import (
	"encoding/base64"
	"io"
	"strconv"
	"strings"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// Calibration holds the fields read from EBSDData/Calibration. SampleTilt
// is read from the XML element ProbeTilt (spec §9 open question (b)); the
// rename is preserved here, not hidden behind a generically-named field.
type Calibration struct {
	WorkingDistance float64
	TopClip         float64
	PCX             float64
	PCY             float64
	SampleTilt      float32
}

// ExtractCalibration reads TEBSDCalibration/ClassInstance fields. Note
// that the source writes PCY's value under the HDF5 name "PCX" (spec §9
// open question (a), a bug in the original tool); this extractor keeps
// PCX and PCY as two distinct, correctly-named fields, and the HDF5
// writer in internal/convert is responsible for emitting them under their
// own names rather than repeating the bug.
func ExtractCalibration(r io.Reader) (*Calibration, error) {
	const op = "bcfxml.ExtractCalibration"
	root, err := parse(r)
	if err != nil {
		return nil, err
	}
	ci := root.firstElementByPath("TEBSDCalibration/ClassInstance")
	if len(ci.Children) == 0 && ci.Name == "" {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}
	f64 := func(path string) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(ci.firstElementByPath(path).Text), 64)
		if err != nil {
			return -1.0
		}
		return v
	}
	return &Calibration{
		WorkingDistance: f64("WorkingDistance"),
		TopClip:         f64("TopClip"),
		PCX:             f64("PCX"),
		PCY:             f64("PCY"),
		SampleTilt:      ci.firstElementByPath("ProbeTilt").textFloat(-1.0),
	}, nil
}

// CameraConfiguration holds the fields read from EBSDData/CameraConfiguration.
type CameraConfiguration struct {
	PixelByteCount int32
}

// ExtractCameraConfiguration maps the PixelFormat string (Gray8/Gray16)
// to a byte count.
func ExtractCameraConfiguration(r io.Reader) (*CameraConfiguration, error) {
	const op = "bcfxml.ExtractCameraConfiguration"
	root, err := parse(r)
	if err != nil {
		return nil, err
	}
	ci := root.firstElementByPath("TCameraConfiguration/ClassInstance")
	format := ci.firstElementByPath("PixelFormat").textString("")
	var pixelByteCount int32
	switch format {
	case "Gray8":
		pixelByteCount = 1
	case "Gray16":
		pixelByteCount = 2
	default:
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}
	return &CameraConfiguration{PixelByteCount: pixelByteCount}, nil
}

// AuxIndexingOptions holds the fields read from EBSDData/AuxIndexingOptions.
type AuxIndexingOptions struct {
	MinIndexedBands int32
	MADMax          float64
}

func ExtractAuxIndexingOptions(r io.Reader) (*AuxIndexingOptions, error) {
	root, err := parse(r)
	if err != nil {
		return nil, err
	}
	ci := root.firstElementByPath("TEBSDAuxIndexingOptions/ClassInstance")
	return &AuxIndexingOptions{
		MinIndexedBands: ci.firstElementByPath("MinIndexedBandCount").textInt(-1),
		MADMax:          float64(ci.firstElementByPath("MaxMAD").textFloat(0.0)),
	}, nil
}

// SEMData holds the fields read from EBSDData/SEMImage.
type SEMData struct {
	Date, Time          string
	Width, Height       int32
	XResolution         float32
	YResolution         float32
	KV                  float32
	Magnification       float32
	ImageName           string
	ImageDescription    string
	// Image holds the Base64-decoded bytes of the first usable plane as a
	// byte buffer rather than a string (spec §9 open question (c)). Its
	// length is whatever the Base64 text decodes to; it is not checked
	// against Width*Height*PixelBytes.
	Image      []byte
	PixelBytes int32
}

// ExtractSEMImage reads TRTImageData/ClassInstance, including the first
// embedded plane image whose Data decodes as Base64 (kept as the decoded
// bytes; ItemSize is recorded as PixelBytes, not used to size the buffer).
func ExtractSEMImage(r io.Reader) (*SEMData, error) {
	root, err := parse(r)
	if err != nil {
		return nil, err
	}
	ci := root.firstElementByPath("TRTImageData/ClassInstance")

	d := &SEMData{
		Date:   ci.firstElementByPath("Date").textString("NOT FOUND"),
		Time:   ci.firstElementByPath("Time").textString("NOT FOUND"),
		Width:  ci.firstElementByPath("Width").textInt(-1),
		Height: ci.firstElementByPath("Height").textInt(-1),
	}
	xRes := ci.firstElementByPath("XCalibration").textFloat(0)
	if xRes == 0 {
		xRes = 1
	}
	yRes := ci.firstElementByPath("YCalibration").textFloat(0)
	if yRes == 0 {
		yRes = 1
	}
	d.XResolution, d.YResolution = xRes, yRes

	itemSize := ci.firstElementByPath("ItemSize").textInt(-1)
	d.PixelBytes = itemSize
	planeCount := ci.firstElementByPath("PlaneCount").textInt(0)
	for p := int32(0); p < planeCount; p++ {
		plane := ci.firstElementByPath("Plane" + strconv.Itoa(int(p)))
		name := plane.firstElementByPath("Name").textString("NOT FOUND")
		desc := plane.firstElementByPath("Description").textString("NOT FOUND")
		if name == "" || desc == "" {
			continue
		}
		b64 := plane.firstElementByPath("Data").textString("")
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			continue
		}
		d.Image = decoded
		d.ImageName = name
		d.ImageDescription = desc
		break
	}

	trtHeader := ci.firstElementByPath("TRTHeaderedClass/ClassInstance")
	d.KV = trtHeader.firstElementByPath("Energy").textFloat(0)
	d.Magnification = trtHeader.firstElementByPath("Magnification").textFloat(-1)

	return d, nil
}

// Phase describes one entry in the PhaseList.
type Phase struct {
	Name            string
	Formula         string
	LatticeConstants [6]float32 // a, b, c, alpha, beta, gamma
	Setting         int32
	SpaceGroup      string
	IT              int32
	AtomPositions   []string // 1-indexed in the source; stored 0-indexed here
}

// ExtractPhaseList reads TEBSDExtPhaseEntryList/ClassInstance/ChildClassInstances.
func ExtractPhaseList(r io.Reader) ([]Phase, error) {
	root, err := parse(r)
	if err != nil {
		return nil, err
	}
	ci := root.firstElementByPath("TEBSDExtPhaseEntryList/ClassInstance")
	children := ci.firstElementByPath("ChildClassInstances")

	var phases []Phase
	for _, inst := range children.Children {
		p := Phase{Name: inst.Attrs["Name"]}
		if p.Name == "" {
			p.Name = "NOT FOUND"
		}
		entry := inst.firstElementByPath("TEBSDPhaseEntry")
		p.Formula = entry.firstElementByPath("Chem").textString("NOT FOUND")

		cell := entry.firstElementByPath("Cell")
		dim := parseCSVFloats(cell.firstElementByPath("Dim").textString("0.0,0.0,0.0"), 3)
		angles := parseCSVFloats(cell.firstElementByPath("Angles").textString("0.0,0.0,0.0"), 3)
		copy(p.LatticeConstants[0:3], dim)
		copy(p.LatticeConstants[3:6], angles)

		p.Setting = entry.firstElementByPath("SE").textInt(-1)
		p.SpaceGroup = entry.firstElementByPath("SG").textString("NOT FOUND")
		p.IT = entry.firstElementByPath("IT").textInt(-1)

		atomCount := entry.firstElementByPath("AT").textInt(-1)
		for a := int32(1); a <= atomCount; a++ {
			tag := "POS" + strconv.Itoa(int(a-1))
			p.AtomPositions = append(p.AtomPositions, entry.firstElementByPath(tag).textString("NOT FOUND"))
		}

		phases = append(phases, p)
	}
	return phases, nil
}

func parseCSVFloats(s string, n int) []float32 {
	out := make([]float32, n)
	parts := strings.Split(s, ",")
	for i := 0; i < n && i < len(parts); i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 32)
		if err == nil {
			out[i] = float32(v)
		}
	}
	return out
}
