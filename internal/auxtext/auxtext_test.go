package auxtext

import (
	"strings"
	"testing"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

func TestParseReadsRequiredFields(t *testing.T) {
	src := "MapWidth=64\nMapHeight=48\nEBSPWidth=80\tcomment\nEBSPHeight=60\n"
	f, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.MapWidth != 64 || f.MapHeight != 48 || f.EBSPWidth != 80 || f.EBSPHeight != 60 {
		t.Fatalf("Fields = %+v, want {64 48 80 60}", f)
	}
}

func TestParseMissingFieldFails(t *testing.T) {
	_, err := Parse(strings.NewReader("MapWidth=64\nMapHeight=48\n"))
	if !bcferr.Is(err, bcferr.MissingSubfile) {
		t.Fatalf("Parse err = %v, want MissingSubfile", err)
	}
}

func TestParseNonNumericFieldFails(t *testing.T) {
	src := "MapWidth=abc\nMapHeight=48\nEBSPWidth=80\nEBSPHeight=60\n"
	_, err := Parse(strings.NewReader(src))
	if !bcferr.Is(err, bcferr.InvalidFormat) {
		t.Fatalf("Parse err = %v, want InvalidFormat", err)
	}
}
