// Package labels resolves model identifiers to class labels.
//
// A Resolver is built explicitly, either from Princeton Shape Benchmark
// classification files (.cla) or from a JSON map of class name to model
// identifiers, and passed to whoever needs labels.
package labels

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Unlabeled is the label of a model no class claims.
const Unlabeled = "unlabeled"

// ErrNoClasses is returned when the input defines no class.
var ErrNoClasses = errors.New("no classes defined")

// claHeaderLines is the number of version lines at the top of a .cla file.
const claHeaderLines = 2

// Resolver maps model identifiers to class labels. A nil Resolver labels
// everything Unlabeled.
type Resolver struct {
	classes map[string][]int
	byID    map[int]string
}

// New builds a resolver from a class name to identifiers map. An identifier
// listed under several classes keeps the first class in name order.
func New(classes map[string][]int) *Resolver {
	r := &Resolver{
		classes: make(map[string][]int, len(classes)),
		byID:    make(map[int]string),
	}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ids := slices.Clone(classes[name])
		slices.Sort(ids)
		r.classes[name] = ids
		for _, id := range ids {
			if prev, dup := r.byID[id]; dup {
				slog.Warn("[Labels] Model listed in several classes", "id", id, "kept", prev, "ignored", name)
				continue
			}
			r.byID[id] = name
		}
	}
	return r
}

// Resolve returns the class of id, or Unlabeled.
func (r *Resolver) Resolve(id int) string {
	if r == nil {
		return Unlabeled
	}
	if label, ok := r.byID[id]; ok {
		return label
	}
	return Unlabeled
}

// Classes returns the class names in sorted order.
func (r *Resolver) Classes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Members returns the sorted identifiers of a class.
func (r *Resolver) Members(class string) []int {
	if r == nil {
		return nil
	}
	return slices.Clone(r.classes[class])
}

// Len returns the number of labeled identifiers.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}

// ParseClassFiles reads .cla classification files. After the two header lines,
// a three-token line "name parent count" whose second token is numeric opens
// a top-level class, and single-token lines list model identifiers. Models
// listed under a subclass belong to the top-level class opened before it.
// Top-level classes are collected across all files before models are
// assigned.
func ParseClassFiles(files ...io.Reader) (*Resolver, error) {
	contents := make([][][]string, 0, len(files))
	topLevel := make(map[string]bool)

	for i, f := range files {
		var lines [][]string
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if words := strings.Fields(sc.Text()); len(words) > 0 {
				lines = append(lines, words)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("class file %d: %w", i, err)
		}
		if len(lines) > claHeaderLines {
			lines = lines[claHeaderLines:]
		} else {
			lines = nil
		}
		for _, words := range lines {
			if len(words) == 3 && isNumeric(words[1]) {
				topLevel[words[0]] = true
			}
		}
		contents = append(contents, lines)
	}
	if len(topLevel) == 0 {
		return nil, ErrNoClasses
	}

	classes := make(map[string][]int, len(topLevel))
	for name := range topLevel {
		classes[name] = nil
	}
	current := ""
	for _, lines := range contents {
		for _, words := range lines {
			if topLevel[words[0]] {
				current = words[0]
			}
			if len(words) != 1 || current == "" {
				continue
			}
			id, err := strconv.Atoi(words[0])
			if err != nil {
				slog.Warn("[Labels] Skipping non-numeric model id", "class", current, "token", words[0])
				continue
			}
			classes[current] = append(classes[current], id)
		}
	}
	return New(classes), nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// LoadClassFiles opens and parses .cla files by path.
func LoadClassFiles(paths ...string) (*Resolver, error) {
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	return ParseClassFiles(readers...)
}

// ReadJSON decodes a class name to identifiers map. Identifiers may be JSON
// numbers or numeric strings.
func ReadJSON(rd io.Reader) (*Resolver, error) {
	var raw map[string][]json.Number
	if err := json.NewDecoder(rd).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode classes: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoClasses
	}
	classes := make(map[string][]int, len(raw))
	for name, nums := range raw {
		ids := make([]int, 0, len(nums))
		for _, n := range nums {
			id, err := strconv.Atoi(n.String())
			if err != nil {
				return nil, fmt.Errorf("class %s: bad id %q: %w", name, n, err)
			}
			ids = append(ids, id)
		}
		classes[name] = ids
	}
	return New(classes), nil
}

// WriteJSON encodes the resolver as a class name to identifiers map.
func (r *Resolver) WriteJSON(w io.Writer) error {
	out := make(map[string][]int, len(r.classes))
	for name, ids := range r.classes {
		if ids == nil {
			ids = []int{}
		}
		out[name] = ids
	}
	return json.NewEncoder(w).Encode(out)
}

// LoadJSON reads a resolver from a JSON file.
func LoadJSON(path string) (*Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// SaveJSON writes the resolver to a JSON file.
func (r *Resolver) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
