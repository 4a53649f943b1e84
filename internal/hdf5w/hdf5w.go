// Package hdf5w is a thin facade over github.com/scigolib/hdf5's write API,
// narrowed to the handful of operations the converter needs: creating
// groups, writing scalar/vector/string datasets and attributes, and
// growing the raw pattern dataset one scan row at a time.
package hdf5w

import (
	"github.com/scigolib/hdf5"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// File wraps an hdf5.FileWriter opened for the lifetime of one conversion.
type File struct {
	fw *hdf5.FileWriter
}

// Create opens path for writing, truncating any existing file.
func Create(path string) (*File, error) {
	const op = "hdf5w.Create"
	fw, err := hdf5.CreateForWrite(path, hdf5.CreateTruncate)
	if err != nil {
		return nil, bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return &File{fw: fw}, nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	const op = "hdf5w.Close"
	if err := f.fw.Close(); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// Root returns a Group addressing the implicit root "/" group, usable for
// writing top-level datasets (Manufacturer, Version). The underlying
// library exposes no way to attach an attribute to the already-existing
// root group (CreateGroup("/") is explicitly rejected with "root group
// already exists" and there is no OpenGroup/root-attribute call), so
// Group.WriteAttribute is not usable on the value this returns; use
// WriteFileVersionMarker for the FileVersion marker instead.
func (f *File) Root() *Group {
	return &Group{f: f, path: "/"}
}

// WriteFileVersionMarker records the output format version. Spec calls
// for this as an attribute on the root group; since the root group here
// cannot carry attributes (see Root), it is written as a root-level
// scalar dataset instead - still present and discoverable the same way
// the FileVersion attribute would be, just not byte-identical HDF5
// attribute metadata. See DESIGN.md.
func (f *File) WriteFileVersionMarker(version int32) error {
	return f.Root().WriteScalarInt32("FileVersion", version)
}

// Group is a handle to a created HDF5 group, used for writing child
// attributes and for addressing child dataset paths.
type Group struct {
	f    *File
	path string
	gw   *hdf5.GroupWriter
}

// CreateGroup creates path, which must be rooted at "/" and whose parent
// must already exist.
func (f *File) CreateGroup(path string) (*Group, error) {
	const op = "hdf5w.CreateGroup"
	gw, err := f.fw.CreateGroup(path)
	if err != nil {
		return nil, bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return &Group{f: f, path: path, gw: gw}, nil
}

// Path returns the group's dataset-addressable path, e.g. "/Spec/EBSD".
func (g *Group) Path() string { return g.path }

// child builds the absolute dataset path for a name under this group.
func (g *Group) child(name string) string {
	if g.path == "/" {
		return "/" + name
	}
	return g.path + "/" + name
}

// WriteAttribute attaches a scalar or string attribute to this group.
func (g *Group) WriteAttribute(name string, value interface{}) error {
	const op = "hdf5w.Group.WriteAttribute"
	if g.gw == nil {
		return bcferr.New(bcferr.Unsupported, op)
	}
	if err := g.gw.WriteAttribute(name, value); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteString writes a fixed-length string dataset under this group.
func (g *Group) WriteString(name, value string) error {
	const op = "hdf5w.Group.WriteString"
	size := uint32(len(value) + 1)
	if size < 1 {
		size = 1
	}
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.String, []uint64{1}, hdf5.WithStringSize(size))
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write([]string{value}); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteStringAttribute attaches a string attribute to a dataset written
// earlier under this group.
func (g *Group) WriteStringAttribute(datasetName, attrName, value string) error {
	return g.writeDatasetAttribute(datasetName, attrName, value)
}

func (g *Group) writeDatasetAttribute(datasetName, attrName string, value interface{}) error {
	const op = "hdf5w.Group.writeDatasetAttribute"
	ds, err := g.f.fw.OpenDataset(g.child(datasetName))
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.WriteAttribute(attrName, value); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteScalarFloat32 writes a length-1 float32 dataset.
func (g *Group) WriteScalarFloat32(name string, v float32) error {
	return g.writeVectorFloat32(name, []float32{v})
}

// WriteScalarFloat64 writes a length-1 float64 dataset.
func (g *Group) WriteScalarFloat64(name string, v float64) error {
	const op = "hdf5w.Group.WriteScalarFloat64"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Float64, []uint64{1})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write([]float64{v}); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteScalarInt32 writes a length-1 int32 dataset.
func (g *Group) WriteScalarInt32(name string, v int32) error {
	const op = "hdf5w.Group.WriteScalarInt32"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Int32, []uint64{1})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write([]int32{v}); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

func (g *Group) writeVectorFloat32(name string, v []float32) error {
	const op = "hdf5w.Group.writeVectorFloat32"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Float32, []uint64{uint64(len(v))})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(v); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteVectorFloat32 writes a 1-D float32 array dataset.
func (g *Group) WriteVectorFloat32(name string, v []float32) error {
	return g.writeVectorFloat32(name, v)
}

// WriteVectorInt32 writes a 1-D int32 array dataset.
func (g *Group) WriteVectorInt32(name string, v []int32) error {
	const op = "hdf5w.Group.WriteVectorInt32"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Int32, []uint64{uint64(len(v))})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(v); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteVectorUint16 writes a 1-D uint16 array dataset.
func (g *Group) WriteVectorUint16(name string, v []uint16) error {
	const op = "hdf5w.Group.WriteVectorUint16"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Uint16, []uint64{uint64(len(v))})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(v); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteVectorInt16 writes a 1-D int16 array dataset.
func (g *Group) WriteVectorInt16(name string, v []int16) error {
	const op = "hdf5w.Group.WriteVectorInt16"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Int16, []uint64{uint64(len(v))})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(v); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteBytes writes a 1-D uint8 array dataset, used for small embedded
// images (SEM micrograph planes) and other byte blobs.
func (g *Group) WriteBytes(name string, v []byte) error {
	const op = "hdf5w.Group.WriteBytes"
	ds, err := g.f.fw.CreateDataset(g.child(name), hdf5.Uint8, []uint64{uint64(len(v))})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(v); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	return nil
}

// WriteImage writes a height x width image dataset typed to pixelBytes
// (1 -> u8, 2 -> u16) and tags it with the HDF5 image conventions
// (CLASS=IMAGE, IMAGE_SUBCLASS=IMAGE_INDEXED, IMAGE_VERSION=1.2) plus the
// Name/Description attributes, matching the SEM Image dataset written
// under both EBSD/Header and SEM in the output layout.
func (g *Group) WriteImage(name string, data []byte, width, height, pixelBytes int, imgName, imgDescription string) error {
	const op = "hdf5w.Group.WriteImage"

	dtype := hdf5.Uint8
	if pixelBytes == 2 {
		dtype = hdf5.Uint16
	}
	ds, err := g.f.fw.CreateDataset(g.child(name), dtype, []uint64{uint64(height), uint64(width)})
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	typed, err := bytesToTyped(data, pixelBytes)
	if err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}
	if err := ds.Write(typed); err != nil {
		return bcferr.Wrap(bcferr.HdfWrite, op, err)
	}

	attrs := map[string]string{
		"CLASS":          "IMAGE",
		"IMAGE_SUBCLASS": "IMAGE_INDEXED",
		"IMAGE_VERSION":  "1.2",
	}
	if imgName != "" {
		attrs["Name"] = imgName
	}
	if imgDescription != "" {
		attrs["Description"] = imgDescription
	}
	for k, v := range attrs {
		if err := ds.WriteAttribute(k, v); err != nil {
			return bcferr.Wrap(bcferr.HdfWrite, op, err)
		}
	}
	return nil
}
