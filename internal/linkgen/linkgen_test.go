package linkgen

import (
	"reflect"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestQueryEscapeNoExemptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"hola", "hola"},
		{"a b", "a%20b"},
		{"a/b?c=d&e+f", "a%2Fb%3Fc%3Dd%26e%2Bf"},
		{"-._~", "-._~"},
		{"ñ", "%C3%B1"},
		{"😀", "%F0%9F%98%80"},
		{"50%", "50%25"},
		{"line\nbreak", "line%0Abreak"},
	}
	for _, tt := range tests {
		if got := QueryEscape(tt.in); got != tt.want {
			t.Fatalf("QueryEscape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLinkAssembly(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	got := g.Link(" 1122334455 ", "Hola Juan")
	want := "https://wa.me/5491122334455?text=Hola%20Juan"
	if got != want {
		t.Fatalf("Link = %q, want %q", got, want)
	}
	if addr := g.AddressOf(got); addr != "5491122334455" {
		t.Fatalf("AddressOf = %q", addr)
	}
	if addr := g.AddressOf("https://example.com/x"); addr != "?" {
		t.Fatalf("AddressOf(foreign) = %q, want ?", addr)
	}
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1234.5", "$1,234.50", true},
		{"$1,234.5", "$1,234.50", true},
		{"  987654321 ", "$987,654,321.00", true},
		{"0", "$0.00", true},
		{"-1500", "$-1,500.00", true},
		{"0.125", "$0.12", true},
		{"1e21", "$1,000,000,000,000,000,000,000.00", true},
		{"-9.5e18", "$-9,500,000,000,000,000,000.00", true},
		{"-0.004", "$-0.00", true},
		{"1$2$3", "$123.00", true},
		{"abc", "", false},
		{"", "", false},
		{"NaN", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatAmount(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("FormatAmount(%q) = (%q,%v), want (%q,%v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRenderMonetaryColumn(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	col := "$ Hist. Total"
	tpl := "{" + col + "}"

	if got := g.Render(Record{col: "1234.5"}, []string{col}, tpl); got != "$1,234.50" {
		t.Fatalf("Render = %q, want $1,234.50", got)
	}
	if got := g.Render(Record{col: "abc"}, []string{col}, tpl); got != "abc" {
		t.Fatalf("Render = %q, want abc unchanged", got)
	}
	// Plain columns are never reformatted.
	if got := g.Render(Record{"Monto": "1234.5"}, []string{"Monto"}, "{Monto}"); got != "1234.5" {
		t.Fatalf("Render = %q, want raw value", got)
	}
}

func TestRenderWithoutPlaceholdersIsIdentity(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	tpl := "  Hola, tenemos novedades para vos  "
	row := Record{"Nombre": "Ana", "Deuda": "10"}
	got := g.Render(row, []string{"Nombre", "Deuda"}, tpl)
	if got != tpl {
		t.Fatalf("Render = %q, want template unchanged", got)
	}
	if p := g.Preview(row, []string{"Nombre"}, tpl); p != strings.TrimSpace(tpl) {
		t.Fatalf("Preview = %q", p)
	}
}

func TestRenderMissingValueAndUnselectedPlaceholder(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	got := g.Render(Record{"Nombre": "Ana"}, []string{"Nombre", "Apellido"}, "{Nombre} {Apellido} {Otro}")
	if got != "Ana  {Otro}" {
		t.Fatalf("Render = %q", got)
	}
}

func TestFromRecordsSplitsAddresses(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	in := TabularInput{
		Columns:        []string{"Nombre", "Telefono", "Telefono 2"},
		AddressColumns: []string{"Telefono", "Telefono 2"},
		PayloadColumns: []string{"Nombre"},
		Template:       "Hola {Nombre}",
		Rows: []Record{
			{"Nombre": "Ana", "Telefono": "1111-2222"},
			{"Nombre": "Sin", "Telefono": " - ", "Telefono 2": ""},
			{"Nombre": "Bea", "Telefono": "3333", "Telefono 2": " 4444 "},
		},
	}
	got := g.FromRecords(in)
	want := []string{
		"https://wa.me/5491111?text=Hola%20Ana",
		"https://wa.me/5492222?text=Hola%20Ana",
		"https://wa.me/5493333?text=Hola%20Bea",
		"https://wa.me/5494444?text=Hola%20Bea",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromRecords =\n%v\nwant\n%v", got, want)
	}
}

func TestFromRecordsCountMatchesAddressPairs(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	rows := []Record{
		{"Tel": "1-2-3"},
		{"Tel": ""},
		{"Tel": "4"},
		{"Tel": "--5--"},
	}
	pairs := 0
	for _, r := range rows {
		pairs += len(g.Addresses(r, []string{"Tel"}))
	}
	links := g.FromRecords(TabularInput{Rows: rows, Columns: []string{"Tel"}, AddressColumns: []string{"Tel"}, Template: "x"})
	if len(links) != pairs || pairs != 5 {
		t.Fatalf("links = %d, pairs = %d, want 5", len(links), pairs)
	}
}

func TestFromRecordsURLShortcut(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	in := TabularInput{
		Columns: []string{"url", "Telefono"},
		Rows: []Record{
			{"url": "https://wa.me/1?text=a", "Telefono": "9"},
			{"url": ""},
			{"url": "https://wa.me/2?text=b"},
		},
		AddressColumns: []string{"Telefono"},
		Template:       "ignored",
	}
	got := g.FromRecords(in)
	want := []string{"https://wa.me/1?text=a", "https://wa.me/2?text=b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromRecords = %v, want %v", got, want)
	}

	// An empty URL column falls through to the template path.
	in.Rows = []Record{{"url": "", "Telefono": "9"}}
	got = g.FromRecords(in)
	if len(got) != 1 || got[0] != "https://wa.me/5499?text=ignored" {
		t.Fatalf("fallthrough = %v", got)
	}
}

func TestDetectAddressColumns(t *testing.T) {
	t.Parallel()
	cols := []string{"Nombre", "TELEFONO", "Telefono Alt", "Email", ""}
	got := DetectAddressColumns(cols, "")
	if !reflect.DeepEqual(got, []string{"TELEFONO", "Telefono Alt"}) {
		t.Fatalf("DetectAddressColumns = %v", got)
	}
}

func TestCustomOptions(t *testing.T) {
	t.Parallel()
	g := New(Options{BaseURL: "https://api.example/send/", CountryPrefix: "1", AddressDelimiter: "/", MonetaryMarkers: []string{"USD"}})
	links := g.FromRecords(TabularInput{
		Columns:        []string{"Phones", "USD due"},
		Rows:           []Record{{"Phones": "555/666", "USD due": "12"}},
		AddressColumns: []string{"Phones"},
		PayloadColumns: []string{"USD due"},
		Template:       "{USD due}",
	})
	want := []string{
		"https://api.example/send/1555?text=%2412.00",
		"https://api.example/send/1666?text=%2412.00",
	}
	if !reflect.DeepEqual(links, want) {
		t.Fatalf("links = %v", links)
	}
}

func TestManualSequenceExample(t *testing.T) {
	t.Parallel()
	got := ManualSequence([]string{"A", "B"}, 5, 1)
	want := []string{"A", "A", "B", "B", "A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ManualSequence = %v, want %v", got, want)
	}
}

func TestManualSequenceLoopsBeyondMessages(t *testing.T) {
	t.Parallel()
	// More loops than needed still truncates to the message count.
	got := ManualSequence([]string{"A", "B", "C"}, 4, 10)
	want := []string{"A", "A", "A", "B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ManualSequence = %v, want %v", got, want)
	}
	if got := ManualSequence([]string{"A"}, 3, 0); !reflect.DeepEqual(got, []string{"A", "A", "A"}) {
		t.Fatalf("single address = %v", got)
	}
}

func TestFromManual(t *testing.T) {
	t.Parallel()
	g := New(Options{})
	msgs := []string{"m0", "m1", "m2", "m3", "m4"}
	got := g.FromManual([]string{"11", "22"}, msgs, 1)
	want := []string{
		"https://wa.me/54911?text=m0",
		"https://wa.me/54911?text=m1",
		"https://wa.me/54922?text=m2",
		"https://wa.me/54922?text=m3",
		"https://wa.me/54911?text=m4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromManual = %v", got)
	}
	if got := g.FromManual(nil, msgs, 1); len(got) != 0 {
		t.Fatalf("expected no links without addresses, got %v", got)
	}
	if got := g.FromManual([]string{"1"}, nil, 1); len(got) != 0 {
		t.Fatalf("expected no links without messages, got %v", got)
	}
}

func TestParseAddresses(t *testing.T) {
	t.Parallel()
	got, err := ParseAddresses([]string{" 11 2233 ", "", "+3415556677", "\t"})
	if err != nil {
		t.Fatalf("ParseAddresses: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"112233", "3415556677"}) {
		t.Fatalf("ParseAddresses = %v", got)
	}

	if _, err := ParseAddresses([]string{"+549 11 2233"}); !errors.Is(err, ErrForbiddenPrefix) {
		t.Fatalf("expected ErrForbiddenPrefix, got %v", err)
	}
	if _, err := ParseAddresses([]string{"11-22"}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := ParseAddresses([]string{" ", ""}); !errors.Is(err, ErrNoAddresses) {
		t.Fatalf("expected ErrNoAddresses, got %v", err)
	}
}

func TestParseMessages(t *testing.T) {
	t.Parallel()
	got, err := ParseMessages([]string{"  hola ", "", "chau"})
	if err != nil || !reflect.DeepEqual(got, []string{"hola", "chau"}) {
		t.Fatalf("ParseMessages = %v, %v", got, err)
	}
	if _, err := ParseMessages([]string{"  "}); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}
