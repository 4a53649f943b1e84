// Package bcfxml extracts the handful of fields this tool needs from the
// five XML metadata sub-files (CameraConfiguration, Calibration,
// AuxIndexingOptions, SEMImage, PhaseList), per spec §9's design note: treat
// them as a flat list of enumerated (path, kind, destination) extractions
// rather than reproducing the source's ad-hoc DOM navigation.
package bcfxml

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/BlueQuartzSoftware/BCFTools/internal/bcferr"
)

// elem is a minimal XML element tree, just enough to support
// first-matching-child path resolution the way pugixml's
// first_element_by_path worked in the original tool.
type elem struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*elem
}

// parse decodes r into an element tree rooted at a synthetic document node
// whose only child is the XML root element.
func parse(r io.Reader) (*elem, error) {
	const op = "bcfxml.parse"

	dec := xml.NewDecoder(r)
	root := &elem{Name: "#document"}
	stack := []*elem{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bcferr.Wrap(bcferr.InvalidFormat, op, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			e := &elem{Name: t.Name.Local, Attrs: make(map[string]string)}
			for _, a := range t.Attr {
				e.Attrs[a.Name.Local] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, e)
			stack = append(stack, e)
		case xml.CharData:
			cur := stack[len(stack)-1]
			cur.Text += string(t)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if len(root.Children) == 0 {
		return nil, bcferr.New(bcferr.InvalidFormat, op)
	}
	return root, nil
}

// firstElementByPath resolves a "/"-separated path of element names,
// taking the first matching child at each level, mirroring pugixml's
// first_element_by_path. Returns a zero-value *elem (never nil) when not
// found, so callers can chain lookups the way the original chains
// first_element_by_path calls and falls back to a default on empty text.
func (e *elem) firstElementByPath(path string) *elem {
	cur := e
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		var next *elem
		for _, c := range cur.Children {
			if c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			return &elem{}
		}
		cur = next
	}
	return cur
}

func (e *elem) textString(def string) string {
	t := strings.TrimSpace(e.Text)
	if t == "" {
		return def
	}
	return t
}

func (e *elem) textInt(def int32) int32 {
	v, err := strconv.ParseInt(strings.TrimSpace(e.Text), 10, 32)
	if err != nil {
		return def
	}
	return int32(v)
}

func (e *elem) textFloat(def float32) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(e.Text), 32)
	if err != nil {
		return def
	}
	return float32(v)
}
