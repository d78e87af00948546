// Package linkgen turns tabular records or manual number/message lists into
// an ordered sequence of percent-encoded message links.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// goroutines. The order of the returned links is the send order.
package linkgen

import (
	"strings"
)

// Record is one parsed tabular row: column name -> cell value.
type Record map[string]string

const (
	DefaultBaseURL          = "https://wa.me/"
	DefaultCountryPrefix    = "549"
	DefaultAddressDelimiter = "-"
	DefaultAddressHint      = "telefono"

	// URLColumn is the column name (case-insensitive) of an already
	// processed dataset.
	URLColumn = "URL"
)

// DefaultMonetaryMarkers flag columns whose values are rendered as amounts.
var DefaultMonetaryMarkers = []string{"$ Hist.", "$ Asig."}

// Options tunes link assembly. Zero values fall back to the defaults above.
type Options struct {
	BaseURL          string
	CountryPrefix    string
	AddressDelimiter string
	MonetaryMarkers  []string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.BaseURL) == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.CountryPrefix == "" {
		o.CountryPrefix = DefaultCountryPrefix
	}
	if o.AddressDelimiter == "" {
		o.AddressDelimiter = DefaultAddressDelimiter
	}
	if o.MonetaryMarkers == nil {
		o.MonetaryMarkers = DefaultMonetaryMarkers
	}
	return o
}

// Generator builds links. It is immutable and safe for concurrent use.
type Generator struct {
	opt Options
}

func New(opt Options) *Generator {
	return &Generator{opt: opt.withDefaults()}
}

// Options returns the effective options (defaults applied).
func (g *Generator) Options() Options { return g.opt }

// Link assembles one link for a destination address and an unencoded payload.
func (g *Generator) Link(address, payload string) string {
	var b strings.Builder
	enc := QueryEscape(payload)
	b.Grow(len(g.opt.BaseURL) + len(g.opt.CountryPrefix) + len(address) + len(enc) + 6)
	b.WriteString(g.opt.BaseURL)
	b.WriteString(g.opt.CountryPrefix)
	b.WriteString(strings.TrimSpace(address))
	b.WriteString("?text=")
	b.WriteString(enc)
	return b.String()
}

// AddressOf extracts the destination address of a link built by Link.
// It returns "?" when the link does not carry one.
func (g *Generator) AddressOf(link string) string {
	i := strings.Index(link, g.opt.BaseURL)
	if i < 0 {
		return "?"
	}
	rest := link[i+len(g.opt.BaseURL):]
	if j := strings.IndexByte(rest, '?'); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return "?"
	}
	return rest
}

const upperhex = "0123456789ABCDEF"

// QueryEscape percent-encodes s leaving only the unreserved set
// (ALPHA / DIGIT / "-" / "." / "_" / "~") bare. Unlike url.QueryEscape it
// never emits '+' for spaces and escapes '/', so the payload survives any
// intermediate handler that decodes the query once.
func QueryEscape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	buf := make([]byte, len(s)+2*n)
	j := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			buf[j] = c
			j++
			continue
		}
		buf[j] = '%'
		buf[j+1] = upperhex[c>>4]
		buf[j+2] = upperhex[c&15]
		j += 3
	}
	return string(buf)
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
