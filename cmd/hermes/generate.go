package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hermes/internal/app"
	"hermes/internal/config"
	"hermes/internal/linkgen"
	"hermes/internal/tabular"
)

type generateFlags struct {
	input       string
	addressCols []string
	payloadCols []string
	template    string
	output      string
	preview     bool
}

var genFlags generateFlags

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build message links from a table",
	Long: `Read a CSV (encoding and delimiter are detected) and write one message
link per row and address as a one-column URL table, ready for "hermes send".

Address columns default to every column whose name contains
generator.address_hint; placeholders {Column} in the template are replaced by
the row values. A table that already has a URL column is passed through
unchanged.

Examples:
  hermes generate -i clientes.csv -t "Hola {Nombre}, debe {$ Hist.}" -o links.csv
  hermes generate -i clientes.csv -t "Hola {Nombre}" --preview`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&genFlags.input, "input", "i", "", "input table (csv)")
	f.StringSliceVarP(&genFlags.addressCols, "address", "a", nil, "address columns (default: detected by generator.address_hint)")
	f.StringSliceVarP(&genFlags.payloadCols, "payload", "p", nil, "payload columns (default: every non-address column)")
	f.StringVarP(&genFlags.template, "template", "t", "", "message template with {Column} placeholders")
	f.StringVarP(&genFlags.output, "output", "o", "", "output file (default: stdout)")
	f.BoolVar(&genFlags.preview, "preview", false, "print the message of the first row and exit")
	_ = generateCmd.MarkFlagRequired("input")
}

// loadSettings reads the config named by --config without starting anything.
func loadSettings() (*config.Config, app.Settings, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, app.Settings{}, err
	}
	st, err := app.Resolve(cfg)
	if err != nil {
		return nil, app.Settings{}, err
	}
	return cfg, st, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	_, st, err := loadSettings()
	if err != nil {
		return err
	}
	gen := linkgen.New(st.Generator)
	out := cmd.OutOrStdout()

	table, err := tabular.ReadCSVFile(genFlags.input)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "read %s rows (%s, delimiter %q)\n",
		humanize.Comma(int64(len(table.Rows))), table.Encoding, table.Delimiter)
	in, err := tabularInput(table, st.AddressHint, genFlags)
	if err != nil {
		return err
	}
	if genFlags.preview {
		return printPreview(out, gen, in)
	}
	links := gen.FromRecords(in)
	if len(links) == 0 {
		return errors.New("no links generated")
	}

	if genFlags.output == "" {
		return tabular.WriteLinks(out, links)
	}
	if err := tabular.WriteLinksFile(genFlags.output, links); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s links to %s\n", humanize.Comma(int64(len(links))), genFlags.output)
	return nil
}

// tabularInput resolves column defaults against the table header.
func tabularInput(table tabular.Table, hint string, fl generateFlags) (linkgen.TabularInput, error) {
	in := linkgen.TabularInput{
		Rows:     table.Rows,
		Columns:  table.Columns,
		Template: fl.template,
	}
	if _, ok := linkgen.FindURLColumn(table.Columns); ok {
		return in, nil
	}

	in.AddressColumns = trimAll(fl.addressCols)
	if len(in.AddressColumns) == 0 {
		in.AddressColumns = linkgen.DetectAddressColumns(table.Columns, hint)
	}
	if len(in.AddressColumns) == 0 {
		return in, errors.WithHint(
			errors.Wrap(linkgen.ErrNoAddresses, "no address column"),
			"pass --address or set generator.address_hint",
		)
	}
	for _, c := range in.AddressColumns {
		if !slices.Contains(table.Columns, c) {
			return in, errors.Newf("unknown address column %q", c)
		}
	}

	in.PayloadColumns = trimAll(fl.payloadCols)
	if len(in.PayloadColumns) == 0 {
		for _, c := range table.Columns {
			if !slices.Contains(in.AddressColumns, c) {
				in.PayloadColumns = append(in.PayloadColumns, c)
			}
		}
	}
	if strings.TrimSpace(in.Template) == "" {
		return in, errors.New("--template is required")
	}
	return in, nil
}

func printPreview(w io.Writer, gen *linkgen.Generator, in linkgen.TabularInput) error {
	if len(in.Rows) == 0 {
		return errors.New("table has no rows")
	}
	if in.AddressColumns == nil {
		_, err := fmt.Fprintln(w, "table already has a URL column; nothing to render")
		return err
	}
	_, err := fmt.Fprintln(w, gen.Preview(in.Rows[0], in.PayloadColumns, in.Template))
	return err
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
