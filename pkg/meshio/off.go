// Package meshio reads and writes meshes in the Object File Format (OFF),
// the format of the Princeton Shape Benchmark.
//
// Polygons with more than three sides are fan-triangulated on load; the
// mesh's FaceType keeps the original layout. Writing emits the triangulated
// faces with full-precision coordinates, so a mesh read back from a written
// file has the same vertices in the same order and the same faces.
package meshio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/mesh"
)

var (
	// ErrFormat is returned for malformed OFF content.
	ErrFormat = errors.New("malformed OFF file")
	// ErrEmptySource is returned when a directory holds no mesh file.
	ErrEmptySource = errors.New("no mesh files found")
)

// Ext is the extension of the files Find collects.
const Ext = ".off"

// tokenizer yields whitespace separated tokens, skipping '#' comments.
type tokenizer struct {
	sc     *bufio.Scanner
	fields []string
	line   int
}

func newTokenizer(r io.Reader) *tokenizer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &tokenizer{sc: sc}
}

func (t *tokenizer) next() (string, error) {
	for len(t.fields) == 0 {
		if !t.sc.Scan() {
			if err := t.sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("line %d: unexpected end of file: %w", t.line, ErrFormat)
		}
		t.line++
		text := t.sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		t.fields = strings.Fields(text)
	}
	tok := t.fields[0]
	t.fields = t.fields[1:]
	return tok, nil
}

func (t *tokenizer) int() (int, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("line %d: %q: %w", t.line, tok, ErrFormat)
	}
	return n, nil
}

func (t *tokenizer) float() (float64, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %q: %w", t.line, tok, ErrFormat)
	}
	return v, nil
}

// maxPrealloc bounds the capacity reserved from header counts.
const maxPrealloc = 1 << 16

// Read parses an OFF mesh.
func Read(r io.Reader) (*mesh.Mesh, error) {
	t := newTokenizer(r)

	head, err := t.next()
	if err != nil {
		return nil, err
	}
	// Some exporters glue the counts to the keyword ("OFF8 6 0").
	switch {
	case head == "OFF":
	case strings.HasPrefix(head, "OFF"):
		t.fields = append([]string{strings.TrimPrefix(head, "OFF")}, t.fields...)
	default:
		return nil, fmt.Errorf("missing OFF header, got %q: %w", head, ErrFormat)
	}

	nv, err := t.int()
	if err != nil {
		return nil, err
	}
	nf, err := t.int()
	if err != nil {
		return nil, err
	}
	if _, err := t.int(); err != nil { // edge count, unused
		return nil, err
	}
	if nv <= 0 || nf <= 0 {
		return nil, mesh.ErrEmptyMesh
	}

	// Counts come from the file; capacity is capped and grown by append so a
	// corrupt header fails on a short read instead of a huge allocation.
	vertices := make([]r3.Vector, 0, min(nv, maxPrealloc))
	for range nv {
		var c [3]float64
		for j := range c {
			if c[j], err = t.float(); err != nil {
				return nil, err
			}
		}
		vertices = append(vertices, r3.Vector{X: c[0], Y: c[1], Z: c[2]})
	}

	faces := make([]mesh.Face, 0, min(nf, maxPrealloc))
	sides := make(map[int]bool)
	for i := 0; i < nf; i++ {
		n, err := t.int()
		if err != nil {
			return nil, err
		}
		if n < 3 || n > nv {
			return nil, fmt.Errorf("face %d has %d vertices: %w", i, n, ErrFormat)
		}
		poly := make([]int, n)
		for j := range poly {
			if poly[j], err = t.int(); err != nil {
				return nil, err
			}
			if poly[j] < 0 || poly[j] >= nv {
				return nil, fmt.Errorf("face %d: vertex index %d: %w", i, poly[j], mesh.ErrBadIndex)
			}
		}
		// Trailing color values stay in t.fields; drop them.
		t.fields = nil
		sides[n] = true
		for j := 1; j+1 < n; j++ {
			faces = append(faces, mesh.Face{poly[0], poly[j], poly[j+1]})
		}
	}

	m, err := mesh.New(vertices, faces)
	if err != nil {
		return nil, err
	}
	switch {
	case len(sides) > 1:
		m.FaceType = mesh.Mixed
	case sides[4]:
		m.FaceType = mesh.Quads
	case sides[3]:
		m.FaceType = mesh.Triangles
	default:
		m.FaceType = mesh.Mixed
	}
	return m, nil
}

// Write emits m as OFF.
func Write(w io.Writer, m *mesh.Mesh) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "OFF\n%d %d %d\n", len(m.Vertices), len(m.Faces), m.EdgeCount())
	for _, v := range m.Vertices {
		bw.WriteString(formatFloat(v.X))
		bw.WriteByte(' ')
		bw.WriteString(formatFloat(v.Y))
		bw.WriteByte(' ')
		bw.WriteString(formatFloat(v.Z))
		bw.WriteByte('\n')
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Load reads an OFF file.
func Load(path string) (*mesh.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save writes m to path, creating parent directories as needed.
func Save(path string, m *mesh.Mesh) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ModelID extracts the model number from a benchmark file name such as
// "m123.off". ok is false when the name carries no number.
func ModelID(path string) (id int, ok bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimPrefix(base, "m")
	id, err := strconv.Atoi(base)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// Find returns every OFF file below root, sorted by path.
func Find(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), Ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrEmptySource)
	}
	slices.Sort(paths)
	return paths, nil
}
