package star

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/classwiz/pkg/errors"
)

// Column tags recognised by classwiz.
const (
	FieldClassNumber          = "_rlnClassNumber"
	FieldMicrographName       = "_rlnMicrographName"
	FieldImageName            = "_rlnImageName"
	FieldAngleRot             = "_rlnAngleRot"
	FieldCtfMaxResolution     = "_rlnCtfMaxResolution"
	FieldAccuracyRotations    = "_rlnAccuracyRotations"
	FieldAccuracyTranslations = "_rlnAccuracyTranslations"
)

// RequiredFields must be present in every particle file that is accumulated.
var RequiredFields = []string{FieldClassNumber, FieldMicrographName, FieldImageName}

// Field is a column tag and its 0-based column index.
type Field struct {
	Name   string `json:"name" yaml:"name"`
	Column int    `json:"column" yaml:"column"`
}

// ParseHeader recognises a loop header line of the form "_rlnName #n" and
// returns the tag with a 0-based column. Key/value lines such as
// "_rlnReferenceDimensionality 3" are not headers.
func ParseHeader(line string) (Field, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "_") {
		return Field{}, false
	}
	parts := strings.Fields(trimmed)
	if len(parts) < 2 || !strings.HasPrefix(parts[1], "#") {
		return Field{}, false
	}
	n, err := strconv.Atoi(parts[1][1:])
	if err != nil || n < 1 {
		return Field{}, false
	}
	return Field{Name: parts[0], Column: n - 1}, true
}

// Layout is the ordered column mapping of one loop block.
type Layout struct {
	Fields  []Field
	columns map[string]int
}

// NewLayout indexes fields by name. Later duplicates win, matching how the
// header scan overwrites earlier ordinals.
func NewLayout(fields []Field) Layout {
	l := Layout{
		Fields:  append([]Field(nil), fields...),
		columns: make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		l.columns[f.Name] = f.Column
	}
	return l
}

// Column returns the 0-based column of name.
func (l Layout) Column(name string) (int, bool) {
	c, ok := l.columns[name]
	return c, ok
}

// Has reports whether name is part of the layout.
func (l Layout) Has(name string) bool {
	_, ok := l.columns[name]
	return ok
}

// Width is the minimum number of columns a row needs for every field.
func (l Layout) Width() int {
	w := 0
	for _, f := range l.Fields {
		if f.Column+1 > w {
			w = f.Column + 1
		}
	}
	return w
}

// Require fails with a missing-field error for the first absent name.
func (l Layout) Require(file string, names ...string) error {
	for _, name := range names {
		if !l.Has(name) {
			return errors.MissingField(file, name)
		}
	}
	return nil
}

// Mismatch returns the first of names whose column differs between l and
// other, or "" when they agree.
func (l Layout) Mismatch(other Layout, names ...string) string {
	for _, name := range names {
		a, okA := l.Column(name)
		b, okB := other.Column(name)
		if okA != okB || a != b {
			return name
		}
	}
	return ""
}
