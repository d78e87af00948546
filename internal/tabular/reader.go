// Package tabular reads the operator's input files (delimited tables and
// plain line lists) and writes the processed link table.
package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"hermes/internal/linkgen"
)

// ErrUnreadable is returned when no supported encoding and delimiter
// combination yields a table.
var ErrUnreadable = errors.New("unreadable table")

// sampleRunes is how much of the decoded text is inspected for a delimiter.
const sampleRunes = 2048

// Delimiters in detection priority order; the first one present wins.
var Delimiters = []rune{';', ',', '\t', '|'}

type candidate struct {
	name string
	enc  encoding.Encoding
	// bom, when set, must prefix the raw bytes for the candidate to apply.
	bom []byte
}

// Candidates are tried in order. BOM-carrying encodings only apply when
// their mark is present; plain UTF-8 must be valid; the single-byte code
// pages accept anything that maps without replacement characters.
var candidates = []candidate{
	{name: "utf-8-sig", enc: unicode.UTF8BOM, bom: []byte{0xEF, 0xBB, 0xBF}},
	{name: "utf-16", enc: unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), bom: []byte{0xFF, 0xFE}},
	{name: "utf-16", enc: unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), bom: []byte{0xFE, 0xFF}},
	{name: "utf-8", enc: unicode.UTF8},
	{name: "cp1252", enc: charmap.Windows1252},
	{name: "latin-1", enc: charmap.ISO8859_1},
}

// Table is a parsed delimited file.
type Table struct {
	Columns   []string
	Rows      []linkgen.Record
	Encoding  string
	Delimiter rune
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, errors.Wrapf(err, "read %s", path)
	}
	t, err := ReadCSV(raw)
	if err != nil {
		return Table{}, errors.Wrapf(err, "%s", path)
	}
	return t, nil
}

// ReadCSV detects the encoding and delimiter of raw and parses it into
// records keyed by trimmed header names. Short rows get "" for the missing
// cells and blank rows are skipped.
func ReadCSV(raw []byte) (Table, error) {
	var errs error
	for _, c := range candidates {
		if c.bom != nil && !bytes.HasPrefix(raw, c.bom) {
			continue
		}
		text, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "decode as %s", c.name))
			continue
		}
		if c.bom == nil && !acceptable(c.name, raw, text) {
			continue
		}
		delim := DetectDelimiter(string(text))
		t, err := parse(text, delim)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "parse as %s", c.name))
			continue
		}
		t.Encoding = c.name
		t.Delimiter = delim
		return t, nil
	}
	if errs == nil {
		return Table{}, ErrUnreadable
	}
	return Table{}, errors.Mark(errs, ErrUnreadable)
}

func acceptable(name string, raw, text []byte) bool {
	if name == "utf-8" {
		return utf8.Valid(raw)
	}
	return !bytes.ContainsRune(text, utf8.RuneError)
}

// DetectDelimiter returns the first delimiter of Delimiters present in the
// first sampleRunes characters of text, or ',' when none is.
func DetectDelimiter(text string) rune {
	sample := text
	n := 0
	for i := range text {
		if n == sampleRunes {
			sample = text[:i]
			break
		}
		n++
	}
	for _, d := range Delimiters {
		if strings.ContainsRune(sample, d) {
			return d
		}
	}
	return ','
}

func parse(text []byte, delim rune) (Table, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return Table{}, errors.New("empty input")
	}
	if err != nil {
		return Table{}, err
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	var rows []linkgen.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, err
		}
		if blank(rec) {
			continue
		}
		row := make(linkgen.Record, len(cols))
		for i, c := range cols {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = ""
			}
		}
		rows = append(rows, row)
	}
	return Table{Columns: cols, Rows: rows}, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadLines returns the trimmed non-blank lines of a UTF-8 text file.
func ReadLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	var out []string
	for _, l := range strings.Split(string(raw), "\n") {
		if s := strings.TrimSpace(l); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
