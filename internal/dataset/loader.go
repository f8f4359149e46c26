package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/logger"
)

const byteOrderMark = "\ufeff"

// Loader reads transaction CSVs into string-typed DataFrames.
type Loader struct {
	encoding string
	decoder  transform.Transformer
}

func NewLoader(enc string) (*Loader, error) {
	name := strings.ToLower(strings.TrimSpace(enc))
	switch name {
	case "", "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j":
		return &Loader{encoding: "shift_jis", decoder: japanese.ShiftJIS.NewDecoder()}, nil
	case "utf-8", "utf8":
		return &Loader{encoding: "utf-8", decoder: encoding.UTF8Validator}, nil
	default:
		return nil, failure.Newf(failure.KindConfiguration, "new loader", "unsupported encoding %q", enc)
	}
}

func (l *Loader) Encoding() string {
	return l.encoding
}

// Load reads path and returns every column as strings. Nothing is coerced here;
// Preprocess decides what counts as a null.
func (l *Loader) Load(path string) (dataframe.DataFrame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read CSV", zap.String("path", path), zap.Error(err))
		return dataframe.DataFrame{}, failure.New(failure.KindIO, "load", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return dataframe.DataFrame{}, failure.Newf(failure.KindEmptyInput, "load", "file %s is empty", path)
	}

	text, err := l.decode(raw)
	if err != nil {
		logger.Error("Encoding error", zap.String("path", path), zap.String("encoding", l.encoding), zap.Error(err))
		return dataframe.DataFrame{}, err
	}

	records, err := readRecords(text)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(records) < 2 {
		return dataframe.DataFrame{}, failure.Newf(failure.KindEmptyInput, "load", "file %s has no data rows", path)
	}

	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{}),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, failure.New(failure.KindValue, "load", df.Err)
	}

	logger.Info("CSV loaded",
		zap.String("path", path),
		zap.Int("rows", df.Nrow()),
		zap.Int("columns", df.Ncol()))
	return df, nil
}

func (l *Loader) decode(raw []byte) (string, error) {
	out, _, err := transform.Bytes(l.decoder, raw)
	if err != nil {
		return "", failure.New(failure.KindEncoding, "decode", err)
	}
	// The Shift_JIS decoder substitutes U+FFFD instead of failing.
	if l.encoding != "utf-8" {
		if i := bytes.IndexRune(out, utf8.RuneError); i >= 0 {
			line := bytes.Count(out[:i], []byte("\n")) + 1
			return "", failure.Newf(failure.KindEncoding, "decode", "invalid %s byte sequence on line %d", l.encoding, line)
		}
	}
	return string(out), nil
}

// readRecords parses CSV text. Rows shorter than the header are padded with
// empty cells; a row longer than the header is malformed.
func readRecords(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failure.New(failure.KindValue, "parse csv", err)
		}
		if len(records) == 0 {
			records = append(records, rec)
			continue
		}
		width := len(records[0])
		if len(rec) > width {
			line, _ := r.FieldPos(0)
			return nil, failure.Newf(failure.KindValue, "parse csv",
				"line %d has %d fields, header has %d", line, len(rec), width)
		}
		for len(rec) < width {
			rec = append(rec, "")
		}
		records = append(records, rec)
	}
	return records, nil
}

// CleanColumns removes byte-order-mark characters from every header. Only the
// exact U+FEFF rune is removed; other whitespace is left alone.
func CleanColumns(df dataframe.DataFrame) dataframe.DataFrame {
	for _, name := range df.Names() {
		cleaned := strings.ReplaceAll(name, byteOrderMark, "")
		if cleaned != name {
			df = df.Rename(cleaned, name)
		}
	}
	return df
}

// ExtractRequired keeps the required columns in canonical order. The error
// lists every missing header, not just the first.
func ExtractRequired(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if df.Err != nil {
		return dataframe.DataFrame{}, failure.New(failure.KindValue, "extract required", df.Err)
	}
	present := make(map[string]bool, df.Ncol())
	for _, name := range df.Names() {
		present[name] = true
	}

	var missing []string
	for _, name := range RequiredColumns {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		logger.Error("Required columns missing", zap.Strings("missing", missing))
		return dataframe.DataFrame{}, failure.MissingColumns("extract required", missing)
	}

	out := df.Select(RequiredColumns)
	if out.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("failed to select required columns: %w", out.Err)
	}
	return out, nil
}
