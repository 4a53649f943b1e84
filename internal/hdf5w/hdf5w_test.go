package hdf5w

import (
	"path/filepath"
	"testing"
)

func TestCreateGroupsAndScalars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.h5")

	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.WriteFileVersionMarker(3); err != nil {
		t.Fatalf("WriteFileVersionMarker: %v", err)
	}
	if err := f.Root().WriteString("Manufacturer", "DREAM.3D"); err != nil {
		t.Fatalf("Root WriteString: %v", err)
	}

	// Parent groups must exist before a child group can be created, so each
	// level is created in order (the library does not auto-create
	// intermediate groups).
	if _, err := f.CreateGroup("/Spec"); err != nil {
		t.Fatalf("CreateGroup(/Spec): %v", err)
	}
	if _, err := f.CreateGroup("/Spec/EBSD"); err != nil {
		t.Fatalf("CreateGroup(/Spec/EBSD): %v", err)
	}
	header, err := f.CreateGroup("/Spec/EBSD/Header")
	if err != nil {
		t.Fatalf("CreateGroup(/Spec/EBSD/Header): %v", err)
	}
	if err := header.WriteScalarInt32("NCOLS", 4); err != nil {
		t.Fatalf("WriteScalarInt32: %v", err)
	}
	if err := header.WriteScalarFloat64("ZOffset", 0.0); err != nil {
		t.Fatalf("WriteScalarFloat64: %v", err)
	}
	if err := header.WriteVectorFloat32("LatticeConstants", []float32{2.87, 2.87, 2.87, 90, 90, 90}); err != nil {
		t.Fatalf("WriteVectorFloat32: %v", err)
	}
	if err := header.WriteString("OriginalFile", "Scan1.bcf"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := header.WriteStringAttribute("OriginalFile", "Note", "test"); err != nil {
		t.Fatalf("WriteStringAttribute: %v", err)
	}

	// Root carries no writable GroupWriter handle; attribute writes on it
	// must fail with Unsupported rather than panic.
	if err := f.Root().WriteAttribute("Bogus", int32(1)); err == nil {
		t.Fatal("Root().WriteAttribute: want error, got nil")
	}
}

func TestPatternDatasetGrowsPerRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.h5")
	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if _, err := f.CreateGroup("/Spec"); err != nil {
		t.Fatalf("CreateGroup(/Spec): %v", err)
	}
	if _, err := f.CreateGroup("/Spec/EBSD"); err != nil {
		t.Fatalf("CreateGroup(/Spec/EBSD): %v", err)
	}
	data, err := f.CreateGroup("/Spec/EBSD/Data")
	if err != nil {
		t.Fatalf("CreateGroup(/Spec/EBSD/Data): %v", err)
	}

	const mapWidth, mapHeight, patW, patH = 2, 3, 4, 4
	ds, err := data.CreatePatternDataset(mapWidth, mapHeight, patW, patH, 1)
	if err != nil {
		t.Fatalf("CreatePatternDataset: %v", err)
	}

	row := make([]byte, mapWidth*patH*patW)
	for y := 0; y < mapHeight; y++ {
		for i := range row {
			row[i] = byte(y)
		}
		if err := ds.WriteRow(row); err != nil {
			t.Fatalf("WriteRow(%d): %v", y, err)
		}
	}

	badRow := make([]byte, len(row)-1)
	if err := ds.WriteRow(badRow); err == nil {
		t.Fatal("WriteRow with wrong length: want error, got nil")
	}
}
