package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"hermes/internal/linkgen"
)

// WriteLinks writes links as a single-column table headed by the URL
// column, so the file can be fed back as input and hit the URL shortcut.
func WriteLinks(w io.Writer, links []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{linkgen.URLColumn}); err != nil {
		return err
	}
	for _, l := range links {
		if err := cw.Write([]string{l}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLinksFile writes links to path through a temp file and a rename.
func WriteLinksFile(path string, links []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".links-*.csv")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := WriteLinks(tmp, links); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}

// LoadLinks reads a links file produced by WriteLinksFile (or any table
// carrying a URL column) and returns its links in order.
func LoadLinks(path string) ([]string, error) {
	t, err := ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	col, ok := linkgen.FindURLColumn(t.Columns)
	if !ok {
		return nil, errors.Newf("%s: no %s column", path, linkgen.URLColumn)
	}
	return linkgen.LinksFromColumn(t.Rows, col), nil
}
