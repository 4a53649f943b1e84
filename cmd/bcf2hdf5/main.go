// Command bcf2hdf5 converts a Bruker .bcf EBSD acquisition container into a
// DREAM.3D convention HDF5 file.
//
// Usage:
//
//	bcf2hdf5 -bcf input.bcf -output output.h5
package main

import (
	"flag"
	"fmt"
	"os"

	bcftools "github.com/BlueQuartzSoftware/BCFTools"
	"github.com/BlueQuartzSoftware/BCFTools/internal/convert"
)

const helpText = `bcf2hdf5 -bcf <input.bcf> -output <output.h5> [-reorder] [-flip]

Convert a Bruker .bcf EBSD acquisition container to a DREAM.3D convention
HDF5 file.

Example:
  % bcf2hdf5 -bcf Scan1.bcf -output Scan1.h5
`

func funcmain() error {
	fset := flag.NewFlagSet("bcf2hdf5", flag.ExitOnError)
	var (
		bcfPath      = fset.String("bcf", "", "path to the input .bcf file")
		bcfShort     = fset.String("b", "", "alias for -bcf")
		output       = fset.String("output", "", "path to the output HDF5 file")
		outputShort  = fset.String("o", "", "alias for -output")
		reorder      = fset.Bool("reorder", false, "reorder indexing records into grid order (mapWidth*y+x) instead of scan order")
		reorderShort = fset.Bool("r", false, "alias for -reorder")
		flipp        = fset.Bool("flip", false, "vertically flip each diffraction pattern")
		flipShort    = fset.Bool("f", false, "alias for -flip")
		parallel     = fset.Bool("parallel", false, "read the patterns within each row concurrently")
		debug        = fset.Bool("debug", false, "format error messages with additional detail")
	)
	fset.Usage = usage(fset, helpText)
	fset.Parse(os.Args[1:])

	in := *bcfPath
	if in == "" {
		in = *bcfShort
	}
	out := *output
	if out == "" {
		out = *outputShort
	}
	ro := *reorder || *reorderShort
	fl := *flipp || *flipShort

	if in == "" || out == "" {
		fset.Usage()
		os.Exit(2)
	}

	ctx, canc := bcftools.InterruptibleContext()
	defer canc()

	err := convert.Run(ctx, convert.Options{
		InputPath:  in,
		OutputPath: out,
		Reorder:    ro,
		Flip:       fl,
		Parallel:   *parallel,
	})
	if err != nil {
		if *debug {
			return fmt.Errorf("bcf2hdf5: %+v", err)
		}
		return fmt.Errorf("bcf2hdf5: %v", err)
	}
	return bcftools.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
