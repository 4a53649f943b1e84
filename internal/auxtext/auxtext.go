// Package auxtext decodes the small tab-delimited KEY=VALUE header found
// in the Auxiliarien sub-file.
package auxtext

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// Fields holds the scan-geometry values this tool needs from Auxiliarien.
type Fields struct {
	MapWidth, MapHeight   int32
	EBSPWidth, EBSPHeight int32
}

// Parse scans lines of the form KEY=VALUE (anything after the first tab
// in VALUE is ignored; space-separated trailing content is not) and fills
// in the fields this tool cares about.
func Parse(r io.Reader) (*Fields, error) {
	const op = "auxtext.Parse"

	values := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(strings.Split(val, "\t")[0])
	}
	if err := sc.Err(); err != nil {
		return nil, bcferr.Wrap(bcferr.Io, op, err)
	}

	get := func(key string) (int32, error) {
		v, ok := values[key]
		if !ok {
			return 0, bcferr.New(bcferr.MissingSubfile, op)
		}
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return 0, bcferr.Wrap(bcferr.InvalidFormat, op, err)
		}
		return int32(n), nil
	}

	f := &Fields{}
	var err error
	if f.MapWidth, err = get("MapWidth"); err != nil {
		return nil, err
	}
	if f.MapHeight, err = get("MapHeight"); err != nil {
		return nil, err
	}
	if f.EBSPWidth, err = get("EBSPWidth"); err != nil {
		return nil, err
	}
	if f.EBSPHeight, err = get("EBSPHeight"); err != nil {
		return nil, err
	}
	return f, nil
}
