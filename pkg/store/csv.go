package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/features"
	"github.com/sanonone/shaperet/pkg/mesh"
)

// ErrColumn is returned when a table lacks a required column or a cell
// cannot be parsed.
var ErrColumn = errors.New("bad table column")

// Column names of the descriptor table.
const (
	colID           = "Model number"
	colLabel        = "Label"
	colVertices     = "Vertices"
	colFaces        = "Faces"
	colEdges        = "Edges"
	colFaceType     = "Face type"
	colBounds       = "Bounding box"
	colBarycenter   = "Barycenter"
	colDiagonal     = "Diagonal"
	colArea         = "Surface"
	colBBoxVolume   = "Bounding box volume"
	colHullVolume   = "Convex hull volume"
	colCompactness  = "Compactness"
	colDiameter     = "Diameter"
	colEccentricity = "Eccentricity"
	colVector       = "Feature vector"
)

var recordHeader = []string{
	colID, colLabel, colVertices, colFaces, colEdges, colFaceType,
	colBounds, colBarycenter, colDiagonal,
	colArea, colBBoxVolume, colHullVolume, colCompactness, colDiameter, colEccentricity,
	descriptor.A3.String(), descriptor.D1.String(), descriptor.D2.String(), descriptor.D3.String(), descriptor.D4.String(),
}

var featureHeader = []string{colID, colLabel, colVector}

// FormatArray encodes values as "[a, b, c]".
func FormatArray(values []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatFloat(v))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseArray decodes a text array. Brackets are ignored, so nested arrays
// come back flattened, and values may be separated by commas or spaces.
// A "nan" entry becomes 0; infinities are returned as is.
func ParseArray(s string) ([]float64, error) {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '[', ']', ',', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
	out := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("array value %q: %w", tok, ErrColumn)
		}
		if math.IsNaN(v) {
			v = 0
		}
		out = append(out, v)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatVec(v r3.Vector) string {
	return FormatArray([]float64{v.X, v.Y, v.Z})
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func recordRow(r *descriptor.Record) []string {
	row := []string{
		strconv.Itoa(r.ID),
		r.Label,
		strconv.Itoa(r.Vertices),
		strconv.Itoa(r.Faces),
		strconv.Itoa(r.Edges),
		string(r.FaceType),
		"[" + formatVec(r.BoundsMin) + ", " + formatVec(r.BoundsMax) + "]",
		formatVec(r.Barycenter),
		formatFloat(r.Diagonal),
		formatFloat(r.Area),
		formatFloat(r.BBoxVolume),
		formatOptional(r.HullVolume),
		formatOptional(r.Compactness),
		formatFloat(r.Diameter),
		formatFloat(r.Eccentricity),
	}
	for _, d := range descriptor.Distributions {
		row = append(row, FormatArray(r.Histograms[d]))
	}
	return row
}

// WriteRecords writes the table as CSV in identifier order.
func WriteRecords(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return err
	}
	for _, r := range t.Records() {
		if err := cw.Write(recordRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// columns maps header names to positions and checks required ones exist.
func columns(header []string, required []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	for _, name := range required {
		if _, ok := pos[name]; !ok {
			return nil, fmt.Errorf("missing %q: %w", name, ErrColumn)
		}
	}
	return pos, nil
}

// rowReader reads typed cells of one CSV row.
type rowReader struct {
	row []string
	pos map[string]int
	err error
	inf bool
}

func (rr *rowReader) cell(name string) string {
	i, ok := rr.pos[name]
	if !ok || i >= len(rr.row) {
		return ""
	}
	return strings.TrimSpace(rr.row[i])
}

func (rr *rowReader) int(name string) int {
	s := rr.cell(name)
	if s == "" || rr.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		rr.err = fmt.Errorf("%s %q: %w", name, s, ErrColumn)
	}
	return v
}

// float parses a scalar cell. ok is false for an empty or NaN cell.
func (rr *rowReader) float(name string) (v float64, ok bool) {
	s := rr.cell(name)
	if s == "" || rr.err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		rr.err = fmt.Errorf("%s %q: %w", name, s, ErrColumn)
		return 0, false
	}
	if math.IsInf(v, 0) {
		rr.inf = true
	}
	return v, !math.IsNaN(v)
}

func (rr *rowReader) optional(name string) *float64 {
	v, ok := rr.float(name)
	if !ok {
		return nil
	}
	return &v
}

func (rr *rowReader) array(name string) []float64 {
	if rr.err != nil {
		return nil
	}
	v, err := ParseArray(rr.cell(name))
	if err != nil {
		rr.err = fmt.Errorf("%s: %w", name, err)
		return nil
	}
	for _, x := range v {
		if math.IsInf(x, 0) {
			rr.inf = true
		}
	}
	return v
}

func (rr *rowReader) vec(name string, offset int) r3.Vector {
	v := rr.array(name)
	if rr.err != nil {
		return r3.Vector{}
	}
	if len(v) < offset+3 {
		rr.err = fmt.Errorf("%s has %d values: %w", name, len(v), ErrColumn)
		return r3.Vector{}
	}
	return r3.Vector{X: v[offset], Y: v[offset+1], Z: v[offset+2]}
}

// ReadRecords parses a descriptor table. Rows carrying an infinite value, or
// NaN in a field that cannot be missing, are dropped with a warning. An
// empty or NaN hull volume or compactness loads as missing.
func ReadRecords(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos, err := columns(header, []string{colID, colArea, colDiameter, colEccentricity})
	if err != nil {
		return nil, err
	}

	t := NewTable()
	dropped := 0
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rr := &rowReader{row: row, pos: pos}
		rec := &descriptor.Record{
			ID:          rr.int(colID),
			Label:       rr.cell(colLabel),
			Vertices:    rr.int(colVertices),
			Faces:       rr.int(colFaces),
			Edges:       rr.int(colEdges),
			FaceType:    mesh.FaceType(rr.cell(colFaceType)),
			HullVolume:  rr.optional(colHullVolume),
			Compactness: rr.optional(colCompactness),
		}
		var okDiag, okArea, okBBox, okDiam, okEcc bool
		rec.Diagonal, okDiag = rr.float(colDiagonal)
		rec.Area, okArea = rr.float(colArea)
		rec.BBoxVolume, okBBox = rr.float(colBBoxVolume)
		rec.Diameter, okDiam = rr.float(colDiameter)
		rec.Eccentricity, okEcc = rr.float(colEccentricity)
		if _, has := pos[colBounds]; has {
			rec.BoundsMin = rr.vec(colBounds, 0)
			rec.BoundsMax = rr.vec(colBounds, 3)
		}
		if _, has := pos[colBarycenter]; has {
			rec.Barycenter = rr.vec(colBarycenter, 0)
		}
		for _, d := range descriptor.Distributions {
			rec.Histograms[d] = rr.array(d.String())
		}
		if rr.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, rr.err)
		}

		// Diagonal and bounding box volume are absent from older tables.
		_, hasDiag := pos[colDiagonal]
		_, hasBBox := pos[colBBoxVolume]
		complete := okArea && okDiam && okEcc && (okDiag || !hasDiag) && (okBBox || !hasBBox)
		if rr.inf || !complete {
			dropped++
			slog.Warn("[Store] Dropping row with non-finite values", "line", line, "id", rec.ID)
			continue
		}
		if t.Put(rec) {
			slog.Warn("[Store] Duplicate model number, keeping last", "id", rec.ID)
		}
	}
	if dropped > 0 {
		slog.Info("[Store] Records loaded", "kept", t.Len(), "dropped", dropped)
	}
	return t, nil
}

// WriteFeatures writes one row per collection entry.
func WriteFeatures(w io.Writer, coll *features.Collection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(featureHeader); err != nil {
		return err
	}
	for _, e := range coll.Entries {
		if err := cw.Write([]string{strconv.Itoa(e.ID), e.Label, FormatArray(e.Vector)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFeatures parses a feature table. Rows with infinite values are dropped.
func ReadFeatures(r io.Reader) (*features.Collection, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos, err := columns(header, featureHeader)
	if err != nil {
		return nil, err
	}

	var entries []features.Entry
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rr := &rowReader{row: row, pos: pos}
		e := features.Entry{ID: rr.int(colID), Label: rr.cell(colLabel), Vector: rr.array(colVector)}
		if rr.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, rr.err)
		}
		if rr.inf {
			slog.Warn("[Store] Dropping feature row with infinite values", "line", line, "id", e.ID)
			continue
		}
		entries = append(entries, e)
	}
	return features.NewCollection(entries)
}

// LoadRecords reads a descriptor table from a file.
func LoadRecords(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecords(f)
}

// SaveRecords writes a descriptor table to a file.
func SaveRecords(path string, t *Table) error {
	return save(path, func(w io.Writer) error { return WriteRecords(w, t) })
}

// LoadFeatures reads a feature table from a file.
func LoadFeatures(path string) (*features.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFeatures(f)
}

// SaveFeatures writes a feature table to a file.
func SaveFeatures(path string, coll *features.Collection) error {
	return save(path, func(w io.Writer) error { return WriteFeatures(w, coll) })
}

// save writes through a temporary file in the same directory and renames it
// over path, so a failed write leaves any existing file untouched.
func save(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
