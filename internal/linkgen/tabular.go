package linkgen

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// TabularInput is everything the tabular mode needs.
type TabularInput struct {
	Rows    []Record
	Columns []string

	// AddressColumns supply destination addresses; a cell may hold several
	// addresses separated by the address delimiter.
	AddressColumns []string
	// PayloadColumns are substituted into Template as {Column}.
	PayloadColumns []string
	Template       string
}

// FindURLColumn returns the name of the column literally called "URL"
// (case-insensitive), if any.
func FindURLColumn(columns []string) (string, bool) {
	for _, c := range columns {
		if strings.EqualFold(strings.TrimSpace(c), URLColumn) {
			return c, true
		}
	}
	return "", false
}

// LinksFromColumn returns the non-empty values of column in row order.
func LinksFromColumn(rows []Record, column string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if v := strings.TrimSpace(r[column]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DetectAddressColumns returns every column whose lowercased name contains
// hint, preserving column order.
func DetectAddressColumns(columns []string, hint string) []string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		hint = DefaultAddressHint
	}
	var out []string
	for _, c := range columns {
		if c != "" && strings.Contains(strings.ToLower(c), hint) {
			out = append(out, c)
		}
	}
	return out
}

// FromRecords renders one link per (row, address) pair.
//
// If the input carries a URL column with at least one value, those values
// are returned unchanged and the template is not used.
func (g *Generator) FromRecords(in TabularInput) []string {
	if col, ok := FindURLColumn(in.Columns); ok {
		if links := LinksFromColumn(in.Rows, col); len(links) > 0 {
			return links
		}
	}

	var links []string
	for _, row := range in.Rows {
		addrs := g.Addresses(row, in.AddressColumns)
		if len(addrs) == 0 {
			continue
		}
		msg := g.Render(row, in.PayloadColumns, in.Template)
		for _, a := range addrs {
			links = append(links, g.Link(a, msg))
		}
	}
	return links
}

// Addresses collects the candidate addresses of one row across the given
// columns, in column order then split order.
func (g *Generator) Addresses(row Record, columns []string) []string {
	var out []string
	for _, col := range columns {
		raw := row[col]
		if raw == "" {
			continue
		}
		for _, part := range strings.Split(raw, g.opt.AddressDelimiter) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Render substitutes the payload columns of row into template. Placeholders
// of columns not listed in columns are left untouched.
func (g *Generator) Render(row Record, columns []string, template string) string {
	msg := template
	for _, col := range columns {
		placeholder := "{" + col + "}"
		if !strings.Contains(msg, placeholder) {
			continue
		}
		msg = strings.ReplaceAll(msg, placeholder, g.formatValue(col, row[col]))
	}
	return msg
}

// Preview renders the message of a single row, as shown to an operator
// before generating the whole batch.
func (g *Generator) Preview(row Record, columns []string, template string) string {
	return strings.TrimSpace(g.Render(row, columns, template))
}

func (g *Generator) formatValue(column, value string) string {
	if !g.isMonetary(column) {
		return value
	}
	amount, ok := FormatAmount(value)
	if !ok {
		return value
	}
	return amount
}

func (g *Generator) isMonetary(column string) bool {
	for _, m := range g.opt.MonetaryMarkers {
		if m != "" && strings.Contains(column, m) {
			return true
		}
	}
	return false
}

// FormatAmount parses value as a number after dropping thousands separators
// and currency symbols, and renders it as "$1,234.50". ok is false when the
// value is not a finite number.
//
// Every '$' is dropped, not only a leading one, and a negative value that
// rounds to zero keeps its sign ("$-0.00"), as spreadsheet exports expect.
func FormatAmount(value string) (string, bool) {
	clean := strings.TrimSpace(strings.NewReplacer(",", "", "$", "").Replace(value))
	if clean == "" {
		return "", false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	fixed := strconv.FormatFloat(f, 'f', 2, 64)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, cents, _ := strings.Cut(fixed, ".")
	// big.Int keeps every digit past the int64 range
	n, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return "", false
	}
	return "$" + sign + humanize.BigComma(n) + "." + cents, true
}
