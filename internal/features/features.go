// Package features turns preprocessed transactions into a numeric design
// matrix with one-hot encoded ward and age bracket.
package features

import (
	"fmt"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/mat"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/utils"
)

const (
	wardPrefix    = dataset.ColWard + "_"
	bracketPrefix = dataset.ColAgeBracket + "_"
	versionLength = 12
)

// numericColumns are the leading, non-indicator features in matrix order.
var numericColumns = []string{
	dataset.ColArea,
	dataset.ColDistance,
	dataset.ColBuiltYear,
	dataset.ColTransactionYear,
}

var ErrUnknownWard = failure.Newf(failure.KindValue, "feature vector", "ward was not present in the training data")

// Columns is the ordered feature layout a model was trained against.
type Columns struct {
	Names         []string `json:"names"`
	Wards         []string `json:"wards"`
	ReferenceWard string   `json:"reference_ward"`
	Version       string   `json:"version"`
}

type Matrix struct {
	X       *mat.Dense
	Target  []float64
	Columns Columns
	// Records[i] is the transaction behind row i of X.
	Records []dataset.Record
}

// Input is one property described in raw terms.
type Input struct {
	Area             float64
	DistanceMinutes  float64
	ConstructionYear float64
	TransactionYear  float64
	Ward             string
	Bracket          dataset.Bracket
}

func newColumns(wards []string) Columns {
	names := append([]string{}, numericColumns...)
	ref := ""
	if len(wards) > 0 {
		ref = wards[0]
		for _, w := range wards[1:] {
			names = append(names, wardPrefix+w)
		}
	}
	for _, b := range dataset.Brackets[1:] {
		names = append(names, bracketPrefix+string(b))
	}
	return Columns{
		Names:         names,
		Wards:         wards,
		ReferenceWard: ref,
		Version:       utils.ShortHash(versionLength, names...),
	}
}

func (c Columns) Len() int {
	return len(c.Names)
}

func (c Columns) index(name string) int {
	for i, n := range c.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// HasWard reports whether ward was a level at training time.
func (c Columns) HasWard(ward string) bool {
	i := sort.SearchStrings(c.Wards, ward)
	return i < len(c.Wards) && c.Wards[i] == ward
}

// Vector lays out in as one feature row. Indicators default to 0; the
// reference ward and bracket set none.
func (c Columns) Vector(in Input) ([]float64, error) {
	if !c.HasWard(in.Ward) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWard, in.Ward)
	}
	row := make([]float64, len(c.Names))
	row[0] = in.Area
	row[1] = in.DistanceMinutes
	row[2] = in.ConstructionYear
	row[3] = in.TransactionYear

	if in.Ward != c.ReferenceWard {
		i := c.index(wardPrefix + in.Ward)
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWard, in.Ward)
		}
		row[i] = 1
	}
	if in.Bracket != dataset.Brackets[0] {
		i := c.index(bracketPrefix + string(in.Bracket))
		if i < 0 {
			return nil, failure.Newf(failure.KindValue, "feature vector", "unknown age bracket %q", in.Bracket)
		}
		row[i] = 1
	}
	return row, nil
}

// Build encodes a preprocessed frame. An empty frame yields a matrix with no
// rows; rejecting it is the trainer's job.
func Build(df dataframe.DataFrame) (*Matrix, error) {
	records, err := dataset.Records(df)
	if err != nil {
		return nil, err
	}
	return FromRecords(records)
}

func FromRecords(records []dataset.Record) (*Matrix, error) {
	seen := make(map[string]bool)
	var wards []string
	for _, r := range records {
		if !seen[r.Ward] {
			seen[r.Ward] = true
			wards = append(wards, r.Ward)
		}
	}
	sort.Strings(wards)

	cols := newColumns(wards)
	m := &Matrix{
		X:       &mat.Dense{},
		Target:  make([]float64, len(records)),
		Columns: cols,
		Records: records,
	}
	if len(records) == 0 {
		return m, nil
	}

	data := make([]float64, 0, len(records)*cols.Len())
	for i, r := range records {
		row, err := cols.Vector(Input{
			Area:             r.Area,
			DistanceMinutes:  r.DistanceMinutes,
			ConstructionYear: r.ConstructionYear,
			TransactionYear:  r.TransactionYear,
			Ward:             r.Ward,
			Bracket:          r.AgeBracket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		data = append(data, row...)
		m.Target[i] = r.Price
	}
	m.X = mat.NewDense(len(records), cols.Len(), data)
	return m, nil
}

func (m *Matrix) Rows() int {
	r, _ := m.X.Dims()
	return r
}

// Subset copies the given rows of X and Target, in the order given.
func (m *Matrix) Subset(rows []int) (*mat.Dense, []float64) {
	_, c := m.X.Dims()
	if len(rows) == 0 || c == 0 {
		return &mat.Dense{}, nil
	}
	x := mat.NewDense(len(rows), c, nil)
	y := make([]float64, len(rows))
	for i, r := range rows {
		x.SetRow(i, m.X.RawRowView(r))
		y[i] = m.Target[r]
	}
	return x, y
}
