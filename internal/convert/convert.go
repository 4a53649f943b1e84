// Package convert orchestrates the end-to-end .bcf to HDF5 conversion:
// opens the SFS archive, stages required sub-files to a scratch
// directory, loads indexing/pattern metadata, and writes the DREAM.3D
// convention HDF5 layout (spec §4.6, §6).
package convert

import (
	"context"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio"

	bcftools "github.com/BlueQuartzSoftware/BCFTools"
	"github.com/BlueQuartzSoftware/BCFTools/internal/auxtext"
	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
	"github.com/BlueQuartzSoftware/BCFTools/internal/bcfxml"
	"github.com/BlueQuartzSoftware/BCFTools/internal/frame"
	"github.com/BlueQuartzSoftware/BCFTools/internal/hdf5w"
	"github.com/BlueQuartzSoftware/BCFTools/internal/indexing"
	"github.com/BlueQuartzSoftware/BCFTools/internal/oninterrupt"
	"github.com/BlueQuartzSoftware/BCFTools/internal/pattern"
	"github.com/BlueQuartzSoftware/BCFTools/internal/sfs"
)

const (
	manufacturer = "DREAM.3D"
	outputVersion = "0.2.0"
	fileVersion   = int32(3)
)

// Options controls one conversion run.
type Options struct {
	InputPath  string
	OutputPath string
	Reorder    bool
	Flip       bool
	// Parallel enables concurrent inner-row pattern reads (spec §5).
	Parallel bool
}

// requiredSubfiles lists every archive entry the orchestrator stages into
// the scratch directory before conversion begins (spec §4.6 step 3).
var requiredSubfiles = []string{
	"EBSDData/FrameDescription",
	"EBSDData/IndexingResults",
	"EBSDData/Auxiliarien",
	"EBSDData/PhaseList",
	"EBSDData/SEMImage",
	"EBSDData/Calibration",
	"EBSDData/AuxIndexingOptions",
	"EBSDData/CameraConfiguration",
	"EBSDData/FrameData",
}

// Run executes one conversion end to end.
func Run(ctx context.Context, opt Options) error {
	const op = "convert.Run"

	in, err := os.Open(opt.InputPath)
	if err != nil {
		return bcferr.Wrap(bcferr.NotFound, op, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return bcferr.Wrap(bcferr.NotFound, op, err)
	}

	archive, err := sfs.Open(in, fi.Size())
	if err != nil {
		return err
	}
	log.Printf("convert: archive opened, version=%v chunkSize=%d", archive.Version(), archive.ChunkSize())

	scratch, err := ioutil.TempDir(filepath.Dir(opt.InputPath), filepath.Base(opt.InputPath)+"_")
	if err != nil {
		return bcferr.Wrap(bcferr.Io, op, err)
	}
	removeScratch := func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Printf("convert: ERROR: failed to remove scratch dir %s: %v", scratch, rmErr)
		}
	}
	defer removeScratch()
	// SIGINT can arrive while a blocking read/write is in flight and never
	// observes ctx.Err(); oninterrupt still runs the scratch dir cleanup
	// before the process exits in that case.
	oninterrupt.Register(removeScratch)

	staged, err := stageSubfiles(archive, scratch)
	if err != nil {
		return err
	}
	log.Printf("convert: staged %d sub-files into %s", len(staged), scratch)

	if ctx.Err() != nil {
		return bcferr.Wrap(bcferr.Io, op, ctx.Err())
	}

	aux, err := openAndParse(staged["EBSDData/Auxiliarien"], auxtext.Parse)
	if err != nil {
		return err
	}

	results, err := loadIndexing(staged["EBSDData/IndexingResults"], aux, opt.Reorder)
	if err != nil {
		return err
	}
	log.Printf("convert: indexing results loaded, %d scan points", results.Count)

	cameraCfg, err := openAndParse(staged["EBSDData/CameraConfiguration"], bcfxml.ExtractCameraConfiguration)
	if err != nil {
		return err
	}
	auxOpts, err := openAndParse(staged["EBSDData/AuxIndexingOptions"], bcfxml.ExtractAuxIndexingOptions)
	if err != nil {
		return err
	}
	calib, err := openAndParse(staged["EBSDData/Calibration"], bcfxml.ExtractCalibration)
	if err != nil {
		return err
	}
	sem, err := openAndParse(staged["EBSDData/SEMImage"], bcfxml.ExtractSEMImage)
	if err != nil {
		return err
	}
	phases, err := openAndParseSlice(staged["EBSDData/PhaseList"], bcfxml.ExtractPhaseList)
	if err != nil {
		return err
	}

	// The HDF5 library writes through its own *os.File opened by path, so
	// the output is built at a renameio-reserved temp path in the
	// destination directory and published with a single atomic rename
	// (renameio.PendingFile.CloseAtomicallyReplace), rather than a plain
	// os.Rename: no partial output file is ever visible under the final
	// name (spec §7).
	pending, err := renameio.TempFile("", opt.OutputPath)
	if err != nil {
		return bcferr.Wrap(bcferr.Io, op, err)
	}
	defer pending.Cleanup()

	hf, err := hdf5w.Create(pending.Name())
	if err != nil {
		return err
	}
	closeErr := writeOutput(ctx, hf, archive, staged, aux, results, cameraCfg, auxOpts, calib, sem, phases, opt)
	if cerr := hf.Close(); cerr != nil && closeErr == nil {
		closeErr = cerr
	}
	if closeErr != nil {
		return closeErr
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return bcferr.Wrap(bcferr.Io, op, err)
	}
	// The rename is atomic but not durable on its own; fsyncing the
	// containing directory is what makes it survive a crash right after
	// publish. Deferred to RunAtExit, run once from main after every other
	// stage of the run has succeeded, rather than inline here.
	outDir := filepath.Dir(opt.OutputPath)
	bcftools.RegisterAtExit(func() error {
		d, err := os.Open(outDir)
		if err != nil {
			return bcferr.Wrap(bcferr.Io, op, err)
		}
		defer d.Close()
		if err := d.Sync(); err != nil {
			return bcferr.Wrap(bcferr.Io, op, err)
		}
		return nil
	})
	log.Printf("convert: wrote %s", opt.OutputPath)
	return nil
}

func stageSubfiles(archive *sfs.Archive, scratch string) (map[string]string, error) {
	const op = "convert.stageSubfiles"
	staged := make(map[string]string, len(requiredSubfiles))
	for _, path := range requiredSubfiles {
		node, err := archive.Lookup(path)
		if err != nil {
			return nil, bcferr.Wrap(bcferr.MissingSubfile, op, err)
		}
		dest := filepath.Join(scratch, filepath.Base(path))
		if err := archive.ExtractTo(node, dest); err != nil {
			return nil, err
		}
		staged[path] = dest
	}
	return staged, nil
}

func openAndParse[T any](path string, parse func(r io.Reader) (*T, error)) (*T, error) {
	const op = "convert.openAndParse"
	f, err := os.Open(path)
	if err != nil {
		return nil, bcferr.Wrap(bcferr.Io, op, err)
	}
	defer f.Close()
	return parse(f)
}

func openAndParseSlice[T any](path string, parse func(r io.Reader) ([]T, error)) ([]T, error) {
	const op = "convert.openAndParseSlice"
	f, err := os.Open(path)
	if err != nil {
		return nil, bcferr.Wrap(bcferr.Io, op, err)
	}
	defer f.Close()
	return parse(f)
}

func loadIndexing(path string, aux *auxtext.Fields, reorder bool) (*indexing.Results, error) {
	const op = "convert.loadIndexing"
	f, err := os.Open(path)
	if err != nil {
		return nil, bcferr.Wrap(bcferr.Io, op, err)
	}
	defer f.Close()
	return indexing.Load(f, aux.MapWidth, aux.MapHeight, reorder)
}

const radToDeg = 180.0 / math.Pi

func writeOutput(
	ctx context.Context,
	hf *hdf5w.File,
	archive *sfs.Archive,
	staged map[string]string,
	aux *auxtext.Fields,
	results *indexing.Results,
	cameraCfg *bcfxml.CameraConfiguration,
	auxOpts *bcfxml.AuxIndexingOptions,
	calib *bcfxml.Calibration,
	sem *bcfxml.SEMData,
	phases []bcfxml.Phase,
	opt Options,
) error {
	const op = "convert.writeOutput"

	if err := hf.WriteFileVersionMarker(fileVersion); err != nil {
		return err
	}
	if err := hf.Root().WriteString("Manufacturer", manufacturer); err != nil {
		return err
	}
	if err := hf.Root().WriteString("Version", outputVersion); err != nil {
		return err
	}

	basename := filepath.Base(opt.InputPath)
	rootPath := "/" + basename
	root, err := hf.CreateGroup(rootPath)
	if err != nil {
		return err
	}
	ebsd, err := hf.CreateGroup(rootPath + "/EBSD")
	if err != nil {
		return err
	}
	header, err := hf.CreateGroup(rootPath + "/EBSD/Header")
	if err != nil {
		return err
	}
	data, err := hf.CreateGroup(rootPath + "/EBSD/Data")
	if err != nil {
		return err
	}
	semGrp, err := hf.CreateGroup(rootPath + "/SEM")
	if err != nil {
		return err
	}
	_ = root

	nPoints := int(aux.MapWidth) * int(aux.MapHeight)

	if err := writeHeader(header, aux, cameraCfg, auxOpts, calib, sem, phases, opt, nPoints); err != nil {
		return err
	}
	if err := writeData(data, results, calib, nPoints); err != nil {
		return err
	}
	if err := writeSEM(semGrp, sem, results, calib); err != nil {
		return err
	}

	log.Printf("convert: streaming patterns, %dx%d grid", aux.MapWidth, aux.MapHeight)
	if err := streamPatterns(ctx, data, archive, staged, aux, cameraCfg, opt); err != nil {
		return err
	}
	log.Printf("convert: pattern streaming finished")

	return nil
}

func writeHeader(
	header *hdf5w.Group,
	aux *auxtext.Fields,
	cameraCfg *bcfxml.CameraConfiguration,
	auxOpts *bcfxml.AuxIndexingOptions,
	calib *bcfxml.Calibration,
	sem *bcfxml.SEMData,
	phases []bcfxml.Phase,
	opt Options,
	nPoints int,
) error {
	if err := header.WriteScalarInt32("NCOLS", aux.MapWidth); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("NROWS", aux.MapHeight); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("NPoints", int32(nPoints)); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("PatternWidth", aux.EBSPWidth); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("PatternHeight", aux.EBSPHeight); err != nil {
		return err
	}
	if err := header.WriteString("OriginalFile", filepath.Base(opt.InputPath)); err != nil {
		return err
	}
	if err := header.WriteString("Grid Type", "isometric"); err != nil {
		return err
	}
	if err := header.WriteScalarFloat64("ZOffset", 0.0); err != nil {
		return err
	}

	phasesGrp, err := header.f.CreateGroup(header.Path() + "/Phases")
	if err != nil {
		return err
	}
	for i, p := range phases {
		pg, err := header.f.CreateGroup(phasesGrp.Path() + "/" + strconv.Itoa(i+1))
		if err != nil {
			return err
		}
		if err := writePhase(pg, p); err != nil {
			return err
		}
	}

	if len(sem.Image) > 0 {
		pixelBytes := int(sem.PixelBytes)
		if pixelBytes == 0 {
			pixelBytes = 1
		}
		if err := header.WriteImage("SEM Image", sem.Image, int(sem.Width), int(sem.Height), pixelBytes, sem.ImageName, sem.ImageDescription); err != nil {
			return err
		}
	}

	if err := header.WriteScalarFloat64("WD", calib.WorkingDistance); err != nil {
		return err
	}
	if err := header.WriteScalarFloat64("TopClip", calib.TopClip); err != nil {
		return err
	}
	if err := header.WriteScalarFloat64("PCX", calib.PCX); err != nil {
		return err
	}
	if err := header.WriteScalarFloat32("SampleTilt", calib.SampleTilt); err != nil {
		return err
	}
	if err := header.WriteScalarFloat32("KV", sem.KV); err != nil {
		return err
	}
	if err := header.WriteScalarFloat32("Magnification", sem.Magnification); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("MinIndexedBands", auxOpts.MinIndexedBands); err != nil {
		return err
	}
	if err := header.WriteScalarFloat64("MADMax", auxOpts.MADMax); err != nil {
		return err
	}
	if err := header.WriteScalarInt32("PixelByteCount", cameraCfg.PixelByteCount); err != nil {
		return err
	}
	if err := header.WriteString("Date", sem.Date); err != nil {
		return err
	}
	if err := header.WriteStringAttribute("Date", "Format (ISO 8601)", "dd.mm.yyyy"); err != nil {
		return err
	}
	if err := header.WriteString("Time", sem.Time); err != nil {
		return err
	}
	if err := header.WriteStringAttribute("Time", "Format (ISO 8601)", "hh:mm:ss"); err != nil {
		return err
	}
	return nil
}

func writePhase(pg *hdf5w.Group, p bcfxml.Phase) error {
	if err := pg.WriteString("Name", p.Name); err != nil {
		return err
	}
	if err := pg.WriteString("Formula", p.Formula); err != nil {
		return err
	}
	if err := pg.WriteString("SpaceGroup", p.SpaceGroup); err != nil {
		return err
	}
	if err := pg.WriteVectorFloat32("LatticeConstants", p.LatticeConstants[:]); err != nil {
		return err
	}
	if err := pg.WriteScalarInt32("Setting", p.Setting); err != nil {
		return err
	}
	if err := pg.WriteScalarInt32("IT", p.IT); err != nil {
		return err
	}
	atomsGrp, err := pg.f.CreateGroup(pg.Path() + "/AtomPositions")
	if err != nil {
		return err
	}
	for i, pos := range p.AtomPositions {
		if err := atomsGrp.WriteString(strconv.Itoa(i+1), pos); err != nil {
			return err
		}
	}
	return nil
}

func writeData(data *hdf5w.Group, results *indexing.Results, calib *bcfxml.Calibration, nPoints int) error {
	xBeam := make([]int32, nPoints)
	yBeam := make([]int32, nPoints)
	for i := 0; i < nPoints; i++ {
		xBeam[i] = results.Positions[2*i]
		yBeam[i] = results.Positions[2*i+1]
	}
	if err := data.WriteVectorInt32("X BEAM", xBeam); err != nil {
		return err
	}
	if err := data.WriteVectorInt32("Y BEAM", yBeam); err != nil {
		return err
	}

	phi1 := make([]float32, nPoints)
	phiCap := make([]float32, nPoints)
	phi2 := make([]float32, nPoints)
	for i := 0; i < nPoints; i++ {
		phi1[i] = results.Eulers[3*i+0] * radToDeg
		phiCap[i] = results.Eulers[3*i+1] * radToDeg
		phi2[i] = results.Eulers[3*i+2] * radToDeg
	}
	if err := data.WriteVectorFloat32("phi1", phi1); err != nil {
		return err
	}
	if err := data.WriteVectorFloat32("PHI", phiCap); err != nil {
		return err
	}
	if err := data.WriteVectorFloat32("phi2", phi2); err != nil {
		return err
	}

	if err := data.WriteVectorFloat32("RadonQuality", results.RadonQuality); err != nil {
		return err
	}

	bandCount := make([]int32, nPoints)
	phase := make([]int32, nPoints)
	indexedBands := make([]int32, nPoints)
	for i := 0; i < nPoints; i++ {
		bandCount[i] = int32(results.BandCount[i])
		phase[i] = int32(results.Phase[i])
		indexedBands[i] = int32(results.IndexedBands[i])
	}
	if err := data.WriteVectorInt32("RadonBandCount", bandCount); err != nil {
		return err
	}
	if err := data.WriteVectorInt32("Phase", phase); err != nil {
		return err
	}
	if err := data.WriteVectorInt32("NIndexedBands", indexedBands); err != nil {
		return err
	}
	if err := data.WriteVectorFloat32("MAD", results.MAD); err != nil {
		return err
	}

	pcx := broadcast(float32(calib.PCX), nPoints)
	pcy := broadcast(float32(calib.PCY), nPoints)
	if err := data.WriteVectorFloat32("PCX", pcx); err != nil {
		return err
	}
	if err := data.WriteVectorFloat32("PCY", pcy); err != nil {
		return err
	}
	return nil
}

func writeSEM(semGrp *hdf5w.Group, sem *bcfxml.SEMData, results *indexing.Results, calib *bcfxml.Calibration) error {
	if err := semGrp.WriteScalarFloat64("SEM WD", calib.WorkingDistance); err != nil {
		return err
	}
	nPoints := len(results.Positions) / 2
	ix := make([]int32, nPoints)
	iy := make([]int32, nPoints)
	for i := 0; i < nPoints; i++ {
		ix[i] = results.Positions[2*i]
		iy[i] = results.Positions[2*i+1]
	}
	if err := semGrp.WriteVectorInt32("SEM IX", ix); err != nil {
		return err
	}
	if err := semGrp.WriteVectorInt32("SEM IY", iy); err != nil {
		return err
	}
	if err := semGrp.WriteScalarInt32("SEM ImageWidth", sem.Width); err != nil {
		return err
	}
	if err := semGrp.WriteScalarInt32("SEM ImageHeight", sem.Height); err != nil {
		return err
	}
	if err := semGrp.WriteScalarFloat32("SEM XResolution", sem.XResolution); err != nil {
		return err
	}
	if err := semGrp.WriteScalarFloat32("SEM YResolution", sem.YResolution); err != nil {
		return err
	}
	if err := semGrp.WriteScalarFloat32("SEM KV", sem.KV); err != nil {
		return err
	}
	if err := semGrp.WriteScalarFloat32("SEM Magnification", sem.Magnification); err != nil {
		return err
	}
	if len(sem.Image) > 0 {
		pixelBytes := int(sem.PixelBytes)
		if pixelBytes == 0 {
			pixelBytes = 1
		}
		if err := semGrp.WriteImage("SEM Image", sem.Image, int(sem.Width), int(sem.Height), pixelBytes, sem.ImageName, sem.ImageDescription); err != nil {
			return err
		}
	}
	return nil
}

func streamPatterns(
	ctx context.Context,
	data *hdf5w.Group,
	archive *sfs.Archive,
	staged map[string]string,
	aux *auxtext.Fields,
	cameraCfg *bcfxml.CameraConfiguration,
	opt Options,
) error {
	const op = "convert.streamPatterns"

	descFile, err := os.Open(staged["EBSDData/FrameDescription"])
	if err != nil {
		return bcferr.Wrap(bcferr.Io, op, err)
	}
	defer descFile.Close()
	desc, err := frame.Parse(descFile)
	if err != nil {
		return err
	}

	frameDataNode, err := archive.Lookup("EBSDData/FrameData")
	if err != nil {
		return bcferr.Wrap(bcferr.MissingSubfile, op, err)
	}
	reader := archive.NewNodeReader(frameDataNode)

	ds, err := data.CreatePatternDataset(int(aux.MapWidth), int(aux.MapHeight), int(aux.EBSPWidth), int(aux.EBSPHeight), int(cameraCfg.PixelByteCount))
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return bcferr.Wrap(bcferr.Io, op, ctx.Err())
	}

	return pattern.Stream(ctx, desc, reader, ds, pattern.Params{
		MapWidth:      int(aux.MapWidth),
		MapHeight:     int(aux.MapHeight),
		PatternWidth:  int(aux.EBSPWidth),
		PatternHeight: int(aux.EBSPHeight),
		PixelBytes:    int(cameraCfg.PixelByteCount),
		FlipPatterns:  opt.Flip,
		Parallel:      opt.Parallel,
	})
}

func broadcast(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

