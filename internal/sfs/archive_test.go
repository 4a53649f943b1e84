package sfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/orcaman/writerseeker"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// putChunkHeader writes the 4-byte next-chunk-index header for chunk idx,
// at idx*chunkSize+280, per spec §4.1's chain-walk offsets.
func putChunkHeader(buf []byte, chunkSize uint32, idx uint32, next uint32) {
	off := int64(chunkSize)*int64(idx) + nextChunkOff
	binary.LittleEndian.PutUint32(buf[off:], next)
}

func chunkPayloadOffset(chunkSize uint32, idx uint32) int64 {
	return int64(chunkSize)*int64(idx) + chunkDataBase
}

func TestOpenSingleChunkArchiveAndExtract(t *testing.T) {
	const chunkSize = 4096
	buf := make([]byte, 14000)
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[headerFieldsOff:], math.Float32bits(1.0))
	binary.LittleEndian.PutUint32(buf[headerFieldsOff+4:], chunkSize)
	// Chunk 0's payload offset (312) overlaps the tree locator at 320, so
	// the node table lives in chunk 3.
	binary.LittleEndian.PutUint64(buf[treeLocatorOff:], 3)   // treeAddress = chunk 3
	binary.LittleEndian.PutUint64(buf[treeLocatorOff+8:], 1) // numTreeItems = 1

	// Node record for "hello.txt", 10 bytes, data via pointer table chunk 1.
	rec := make([]byte, nodeRecordSize)
	binary.LittleEndian.PutUint32(rec[0:], 1)   // PointerTableInit -> chunk 1
	binary.LittleEndian.PutUint64(rec[4:], 10)  // FileSize
	binary.LittleEndian.PutUint32(rec[40:], uint32(int32(-1))) // ParentIndex (-1, offset per rawNode layout)
	rec[220] = 0 // IsDirectory = false
	copy(rec[224:], "hello.txt")
	copy(buf[chunkPayloadOffset(chunkSize, 3):], rec)

	// Pointer table at chunk 1: one u32 index pointing at data chunk 2.
	ptrTable := make([]byte, 4)
	binary.LittleEndian.PutUint32(ptrTable, 2)
	copy(buf[chunkPayloadOffset(chunkSize, 1):], ptrTable)

	// Data chunk 2 payload: the 10-byte file contents.
	copy(buf[chunkPayloadOffset(chunkSize, 2):], []byte("HelloWorld"))

	arc, err := Open(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := arc.Lookup("hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if n.FileSize != 10 {
		t.Fatalf("FileSize = %d, want 10", n.FileSize)
	}
	got, err := arc.ReadToMemory(n)
	if err != nil {
		t.Fatalf("ReadToMemory: %v", err)
	}
	if string(got) != "HelloWorld" {
		t.Fatalf("ReadToMemory = %q, want %q", got, "HelloWorld")
	}
}

// TestNodeTableMultiChunkSkipsPadding mirrors the spec's padding rule: a
// node table whose usable-per-chunk size is not a multiple of 512 must
// not pull chunk padding bytes into the record stream. chunkSize=1100
// gives usableChunkSize=1068, so each node-table chunk holds exactly two
// 512-byte records with 44 padding bytes left over; those padding bytes
// are filled with non-zero garbage here, and would misalign record 2
// (starting it 44 bytes before the second chunk's payload) if they were
// ever copied in.
func TestNodeTableMultiChunkSkipsPadding(t *testing.T) {
	const chunkSize = 1100
	buf := make([]byte, 7000)
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[headerFieldsOff:], math.Float32bits(1.0))
	binary.LittleEndian.PutUint32(buf[headerFieldsOff+4:], chunkSize)
	binary.LittleEndian.PutUint64(buf[treeLocatorOff:], 2)   // treeAddress = chunk 2
	binary.LittleEndian.PutUint64(buf[treeLocatorOff+8:], 3) // numTreeItems = 3

	mkRecord := func(name string, fileSize uint64, pointerTable uint32) []byte {
		rec := make([]byte, nodeRecordSize)
		binary.LittleEndian.PutUint32(rec[0:], pointerTable)
		binary.LittleEndian.PutUint64(rec[4:], fileSize)
		binary.LittleEndian.PutUint32(rec[40:], uint32(int32(-1))) // ParentIndex
		rec[220] = 0
		copy(rec[224:], name)
		return rec
	}

	chunk2Payload := chunkPayloadOffset(chunkSize, 2)
	copy(buf[chunk2Payload:], mkRecord("dummy0.txt", 0, 0))
	copy(buf[chunk2Payload+nodeRecordSize:], mkRecord("dummy1.txt", 0, 0))
	// Padding left over in chunk 2 after its two records: poison it so the
	// test fails loudly if it ever gets copied into the record stream.
	for i := chunk2Payload + 2*nodeRecordSize; i < chunk2Payload+1068; i++ {
		buf[i] = 0xFF
	}
	putChunkHeader(buf, chunkSize, 2, 3) // chain to chunk 3

	// target.txt's data resolves through a single-chunk pointer table
	// (chunk 4) naming one data chunk (chunk 5), so resolveChunkTables
	// has a real, in-bounds chunk to validate against.
	chunk3Payload := chunkPayloadOffset(chunkSize, 3)
	copy(buf[chunk3Payload:], mkRecord("target.txt", 777, 4))
	putChunkHeader(buf, chunkSize, 3, 0)

	chunk4Payload := chunkPayloadOffset(chunkSize, 4)
	binary.LittleEndian.PutUint32(buf[chunk4Payload:], 5)

	arc, err := Open(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := arc.Lookup("target.txt")
	if err != nil {
		t.Fatalf("Lookup(target.txt): %v", err)
	}
	if n.FileSize != 777 {
		t.Fatalf("FileSize = %d, want 777", n.FileSize)
	}
}

func TestBadMagic(t *testing.T) {
	buf := make([]byte, 512)
	copy(buf, "NOTBRUKR")
	_, err := Open(bytes.NewReader(buf), int64(len(buf)))
	if !bcferr.Is(err, bcferr.InvalidFormat) {
		t.Fatalf("Open err = %v, want InvalidFormat", err)
	}
}

// TestExtractMultiChunkNonContiguous mirrors the spec's concrete scenario:
// chunkSize=64, usableChunkSize=32, a 100-byte leaf spanning chunk indices
// [5,7,6,9] in non-contiguous order, with the last chunk contributing
// exactly 4 bytes.
func TestExtractMultiChunkNonContiguous(t *testing.T) {
	const chunkSize = 64
	indices := []uint32{5, 7, 6, 9}
	maxIdx := uint32(9)
	buf := make([]byte, int64(maxIdx+1)*chunkSize+chunkDataBase+(chunkSize-chunkHeaderSize))

	want := make([]byte, 100)
	for i := range want {
		want[i] = byte(i)
	}
	remaining := want
	for _, idx := range indices {
		n := 32
		if len(remaining) < n {
			n = len(remaining)
		}
		copy(buf[chunkPayloadOffset(chunkSize, idx):], remaining[:n])
		remaining = remaining[n:]
	}

	arc := &Archive{r: bytes.NewReader(buf), chunkSize: chunkSize}
	offsets := make([]int64, len(indices))
	for i, idx := range indices {
		offsets[i] = chunkPayloadOffset(chunkSize, idx)
	}
	n := &Node{FileSize: 100, offsets: offsets}

	got, err := arc.ReadToMemory(n)
	if err != nil {
		t.Fatalf("ReadToMemory: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadToMemory mismatch: got %v want %v", got, want)
	}
}

// TestCopyChunksAcceptsAnyWriter exercises copyChunks against an
// in-memory io.Writer rather than *os.File or the package's own
// sliceWriter, confirming ExtractTo's underlying loop is sink-agnostic
// (spec §4.2: one algorithm, sink chosen by caller).
func TestCopyChunksAcceptsAnyWriter(t *testing.T) {
	const chunkSize = 64
	indices := []uint32{0, 1}
	buf := make([]byte, 2*chunkSize+chunkDataBase)

	want := make([]byte, 40)
	for i := range want {
		want[i] = byte(i)
	}
	copy(buf[chunkPayloadOffset(chunkSize, 0):], want[:32])
	copy(buf[chunkPayloadOffset(chunkSize, 1):], want[32:])

	arc := &Archive{r: bytes.NewReader(buf), chunkSize: chunkSize}
	offsets := make([]int64, len(indices))
	for i, idx := range indices {
		offsets[i] = chunkPayloadOffset(chunkSize, idx)
	}
	n := &Node{FileSize: uint64(len(want)), offsets: offsets}

	var ws writerseeker.WriteSeeker
	if err := arc.copyChunks(n, &ws); err != nil {
		t.Fatalf("copyChunks: %v", err)
	}

	got, err := io.ReadAll(ws.Reader())
	if err != nil {
		t.Fatalf("reading back WriteSeeker contents: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("copyChunks via WriteSeeker = %q, want %q", got, want)
	}
}
