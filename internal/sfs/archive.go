// Package sfs reads Bruker's "Single-File-System" container format: the
// chunked archive inside a .bcf file. It is read-only and does not
// understand compressed or encrypted variants.
package sfs

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

const (
	magic           = "AAMVHFSS"
	headerFieldsOff = 0x124 // version (f32) then chunkSize (u32)
	treeLocatorOff  = 320   // treeAddress, numTreeItems, numChunks
	nodeRecordSize  = 512
	chunkHeaderSize = 32
	chunkDataBase   = 312 // archive preamble + per-chunk header
	nextChunkOff    = 280 // offset within a chunk at which the chain pointer lives
)

// Archive is an opened SFS container. The node table and every leaf's
// chunk-offset table are resolved eagerly at Open time; per-node payload
// bytes are produced on demand via Archive.ReadToMemory/ExtractTo.
type Archive struct {
	r         io.ReaderAt
	version   float32
	chunkSize uint32
	nodes     []Node    // arena, indexed by node index
	root      *Node     // synthetic root; root.children holds top-level entries
}

// Node describes one file or directory in the archive tree.
type Node struct {
	Index        int
	PointerTable uint32 // chunk index of this node's own chunk-offset table
	FileSize     uint64
	ParentIndex  int32 // -1 for root
	IsDirectory  bool
	Name         string

	children map[string]*Node // nil for leaves

	offsets []int64 // resolved absolute byte offsets of this leaf's data chunks
}

// usableChunkSize is chunkSize minus the 32-byte per-chunk header.
func (a *Archive) usableChunkSize() uint32 { return a.chunkSize - chunkHeaderSize }

// Version reports the SFS format version found in the archive header.
func (a *Archive) Version() float32 { return a.version }

// ChunkSize reports the raw chunk size, including the 32-byte header.
func (a *Archive) ChunkSize() uint32 { return a.chunkSize }

func readScalarAt[T any](r io.ReaderAt, off int64, v *T) error {
	size := binary.Size(*v)
	if size < 0 {
		return xerrors.Errorf("readScalarAt: type has no fixed size")
	}
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	if n < size {
		return io.ErrUnexpectedEOF
	}
	return binary.Read(bytesReader(buf), binary.LittleEndian, v)
}

// Open parses the archive header and builds the full in-memory node tree,
// resolving every leaf's chunk-offset table.
func Open(r io.ReaderAt, archiveLen int64) (*Archive, error) {
	const op = "sfs.Open"

	magicBuf := make([]byte, len(magic))
	if _, err := r.ReadAt(magicBuf, 0); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	if string(magicBuf) != magic {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}

	var version float32
	if err := readScalarAt(r, headerFieldsOff, &version); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	var chunkSize uint32
	if err := readScalarAt(r, headerFieldsOff+4, &chunkSize); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	if chunkSize <= chunkHeaderSize {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}

	var treeAddress, numTreeItems, numChunks uint64
	if err := readScalarAt(r, treeLocatorOff, &treeAddress); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	if err := readScalarAt(r, treeLocatorOff+8, &numTreeItems); err != nil {
		return nil, bcferr.Wrap(bcferr.Truncated, op, err)
	}
	_ = numChunks // unused by the reader, per spec

	a := &Archive{r: r, version: version, chunkSize: chunkSize}

	raw, err := a.readNodeTable(treeAddress, numTreeItems)
	if err != nil {
		return nil, err
	}
	if err := a.buildTree(raw); err != nil {
		return nil, err
	}
	if err := a.resolveChunkTables(archiveLen); err != nil {
		return nil, err
	}
	if err := a.checkVersionSubfilePlain(); err != nil {
		return nil, err
	}
	return a, nil
}

// readNodeTable walks the (possibly chained) node-table chunks and returns
// the concatenated raw record bytes.
func (a *Archive) readNodeTable(treeAddress, numTreeItems uint64) ([]byte, error) {
	const op = "sfs.readNodeTable"

	recordsPerChunk := int(a.usableChunkSize()) / nodeRecordSize
	if recordsPerChunk <= 0 {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}
	need := int(numTreeItems) * nodeRecordSize

	if int(numTreeItems) <= recordsPerChunk {
		off := int64(a.chunkSize)*int64(treeAddress) + chunkDataBase
		buf := make([]byte, need)
		if err := a.readAt(buf, off); err != nil {
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		return buf, nil
	}

	return a.readNodeTableChain(uint32(treeAddress), recordsPerChunk, need)
}

// readChunkChain walks a multi-chunk payload starting at chunk index
// `start`, following the next-chunk-index stored in each chunk's header,
// and returns the first `need` bytes of concatenated payload. Each chunk
// contributes its full usable payload; this is correct for the u32
// offset-tables, which pack densely with no intra-chunk padding.
func (a *Archive) readChunkChain(start uint32, need int) ([]byte, error) {
	const op = "sfs.readChunkChain"

	out := make([]byte, 0, need)
	current := start
	usable := int(a.usableChunkSize())
	for len(out) < need {
		var next uint32
		nextOff := int64(a.chunkSize)*int64(current) + nextChunkOff
		if err := readScalarAt(a.r, nextOff, &next); err != nil {
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		payloadOff := int64(a.chunkSize)*int64(current) + chunkDataBase
		buf := make([]byte, usable)
		if err := a.readAt(buf, payloadOff); err != nil {
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		out = append(out, buf...)
		current = next
	}
	return out[:need], nil
}

// readNodeTableChain walks a multi-chunk node table the same way as
// readChunkChain, but copies only recordsPerChunk*512 bytes out of each
// chunk's usable payload rather than the full usable size. The node table
// packs a whole number of 512-byte records per chunk and leaves the
// remainder of the chunk as padding; pulling that padding in would shift
// every record after the first chunk out of alignment.
func (a *Archive) readNodeTableChain(start uint32, recordsPerChunk, need int) ([]byte, error) {
	const op = "sfs.readNodeTableChain"

	perChunk := recordsPerChunk * nodeRecordSize
	out := make([]byte, 0, need)
	current := start
	for len(out) < need {
		var next uint32
		nextOff := int64(a.chunkSize)*int64(current) + nextChunkOff
		if err := readScalarAt(a.r, nextOff, &next); err != nil {
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		payloadOff := int64(a.chunkSize)*int64(current) + chunkDataBase
		n := perChunk
		if need-len(out) < n {
			n = need - len(out)
		}
		buf := make([]byte, n)
		if err := a.readAt(buf, payloadOff); err != nil {
			return nil, bcferr.Wrap(bcferr.Truncated, op, err)
		}
		out = append(out, buf...)
		current = next
	}
	return out[:need], nil
}

func (a *Archive) readAt(buf []byte, off int64) error {
	n, err := a.r.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

type rawNode struct {
	PointerTableInit uint32
	FileSize         uint64
	_                [3]uint64 // timestamps, unused
	Permissions      uint32
	ParentIndex      int32
	_                [176]byte
	IsDirectory      uint8
	_                [3]byte
	FileName         [256]byte
	_                [32]byte
}

// buildTree decodes raw node records and links children into parent
// directory maps, keyed by file name.
func (a *Archive) buildTree(raw []byte) error {
	const op = "sfs.buildTree"

	count := len(raw) / nodeRecordSize
	a.nodes = make([]Node, count)
	for i := 0; i < count; i++ {
		var rn rawNode
		if err := binary.Read(bytesReader(raw[i*nodeRecordSize:(i+1)*nodeRecordSize]), binary.LittleEndian, &rn); err != nil {
			return bcferr.Wrap(bcferr.InvalidFormat, op, err)
		}
		name := cString(rn.FileName[:])
		a.nodes[i] = Node{
			Index:        i,
			PointerTable: rn.PointerTableInit,
			FileSize:     rn.FileSize,
			ParentIndex:  rn.ParentIndex,
			IsDirectory:  rn.IsDirectory != 0,
			Name:         name,
		}
		if a.nodes[i].IsDirectory {
			a.nodes[i].children = make(map[string]*Node)
		}
	}

	a.root = &Node{Index: -1, IsDirectory: true, children: make(map[string]*Node)}
	for i := range a.nodes {
		n := &a.nodes[i]
		if n.ParentIndex < -1 || int(n.ParentIndex) >= count {
			return bcferr.New(bcferr.CorruptTree, op)
		}
		parent := a.root
		if n.ParentIndex >= 0 {
			parent = &a.nodes[n.ParentIndex]
			if !parent.IsDirectory {
				return bcferr.New(bcferr.CorruptTree, op)
			}
		}
		parent.children[n.Name] = n
	}

	// Acyclicity check: walk parent chains from every node; a cycle means
	// we never reach -1 within count+1 steps.
	for i := range a.nodes {
		steps := 0
		p := a.nodes[i].ParentIndex
		for p != -1 {
			steps++
			if steps > count {
				return bcferr.New(bcferr.CorruptTree, op)
			}
			p = a.nodes[p].ParentIndex
		}
	}

	return nil
}

// resolveChunkTables computes the ordered absolute chunk-data offsets for
// every non-directory node, per spec §4.1.
func (a *Archive) resolveChunkTables(archiveLen int64) error {
	const op = "sfs.resolveChunkTables"

	usable := a.usableChunkSize()
	indicesPerChunk := usable / 4

	for i := range a.nodes {
		n := &a.nodes[i]
		if n.IsDirectory {
			continue
		}
		numDataChunks := ceilDiv(n.FileSize, uint64(usable))
		if numDataChunks == 0 {
			n.offsets = nil
			continue
		}
		numIndexChunks := ceilDiv(numDataChunks, uint64(indicesPerChunk))

		var idxBytes []byte
		var err error
		if numIndexChunks == 1 {
			off := int64(a.chunkSize)*int64(n.PointerTable) + chunkDataBase
			buf := make([]byte, usable)
			if err := a.readAt(buf, off); err != nil {
				return bcferr.Wrap(bcferr.Truncated, op, err)
			}
			idxBytes = buf
		} else {
			idxBytes, err = a.readChunkChain(n.PointerTable, int(numIndexChunks)*int(usable))
			if err != nil {
				return err
			}
		}

		offsets := make([]int64, numDataChunks)
		for j := uint64(0); j < numDataChunks; j++ {
			c := binary.LittleEndian.Uint32(idxBytes[j*4 : j*4+4])
			off := int64(a.chunkSize)*int64(c) + chunkDataBase
			if off < 0 || off+int64(usable) > archiveLen {
				return bcferr.New(bcferr.CorruptTree, op)
			}
			offsets[j] = off
		}
		n.offsets = offsets
	}
	return nil
}

// checkVersionSubfilePlain is a best-effort rejection of compressed or
// encrypted SFS variants: if the Version sub-file's first data chunk does
// not look like the known plain layout, the archive is Unsupported.
func (a *Archive) checkVersionSubfilePlain() error {
	const op = "sfs.checkVersionSubfilePlain"

	n, ok := a.root.children["Version"]
	if !ok || n.IsDirectory || len(n.offsets) == 0 {
		// Nothing to check; absence of Version is reported later as
		// MissingSubfile by whichever extraction step needs it.
		return nil
	}
	buf := make([]byte, min64(n.FileSize, uint64(a.usableChunkSize())))
	if err := a.readAt(buf, n.offsets[0]); err != nil {
		return bcferr.Wrap(bcferr.Truncated, op, err)
	}
	for _, b := range buf {
		if b >= 0x80 {
			return bcferr.New(bcferr.Unsupported, op)
		}
	}
	return nil
}

// Lookup resolves a "/"-separated path rooted at the archive root.
func (a *Archive) Lookup(path string) (*Node, error) {
	const op = "sfs.Lookup"
	cur := a.root
	for _, part := range splitPath(path) {
		if part == "" {
			continue
		}
		if !cur.IsDirectory {
			return nil, bcferr.New(bcferr.MissingSubfile, op)
		}
		next, ok := cur.children[part]
		if !ok {
			return nil, bcferr.New(bcferr.MissingSubfile, op)
		}
		cur = next
	}
	return cur, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

// sliceReader avoids pulling in bytes.Reader just for binary.Read call
// sites that already have a slice in hand; kept tiny and allocation-free.
type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}
