// Package aggregate groups full-fit predictions by ward, age bracket and year.
//
// Every function takes the records and predictions as parallel slices:
// predictions[i] must be the prediction for records[i].
package aggregate

import (
	"math"
	"sort"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/failure"
)

type WardRow struct {
	Ward      string `json:"ward" yaml:"ward"`
	Predicted int64  `json:"predicted" yaml:"predicted"`
	Actual    int64  `json:"actual" yaml:"actual"`
}

type YearMean struct {
	Year      int     `json:"year" yaml:"year"`
	MeanPrice float64 `json:"mean_price" yaml:"mean_price"`
	Count     int     `json:"count" yaml:"count"`
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.count++
}

func (m mean) value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// roundPrice rounds half to even.
func roundPrice(v float64) int64 {
	return int64(math.RoundToEven(v))
}

func checkAligned(op string, records []dataset.Record, predictions []float64) error {
	if len(records) != len(predictions) {
		return failure.Newf(failure.KindConfiguration, op,
			"%d records but %d predictions", len(records), len(predictions))
	}
	return nil
}

// ByWard returns the rounded mean predicted and mean actual price per ward.
func ByWard(records []dataset.Record, predictions []float64) (pred, actual map[string]int64, err error) {
	if err := checkAligned("by ward", records, predictions); err != nil {
		return nil, nil, err
	}

	predMeans := make(map[string]*mean)
	actualMeans := make(map[string]*mean)
	for i, r := range records {
		if predMeans[r.Ward] == nil {
			predMeans[r.Ward] = &mean{}
			actualMeans[r.Ward] = &mean{}
		}
		predMeans[r.Ward].add(predictions[i])
		actualMeans[r.Ward].add(r.Price)
	}

	pred = make(map[string]int64, len(predMeans))
	actual = make(map[string]int64, len(actualMeans))
	for ward, m := range predMeans {
		pred[ward] = roundPrice(m.value())
		actual[ward] = roundPrice(actualMeans[ward].value())
	}
	return pred, actual, nil
}

// ByWardAndEra returns the rounded mean prediction per ward and age bracket.
// The bracket is recomputed from each record's construction year. Every ward
// gets all brackets; an empty combination is 0.
func ByWardAndEra(records []dataset.Record, predictions []float64, referenceYear int) (map[string]map[string]int64, error) {
	if err := checkAligned("by ward and era", records, predictions); err != nil {
		return nil, err
	}

	groups := make(map[string]map[dataset.Bracket]*mean)
	for i, r := range records {
		byBracket, ok := groups[r.Ward]
		if !ok {
			byBracket = make(map[dataset.Bracket]*mean, len(dataset.Brackets))
			for _, b := range dataset.Brackets {
				byBracket[b] = &mean{}
			}
			groups[r.Ward] = byBracket
		}
		b, ok := dataset.BracketFor(referenceYear, r.ConstructionYear)
		if !ok {
			continue
		}
		byBracket[b].add(predictions[i])
	}

	out := make(map[string]map[string]int64, len(groups))
	for ward, byBracket := range groups {
		row := make(map[string]int64, len(byBracket))
		for b, m := range byBracket {
			row[string(b)] = roundPrice(m.value())
		}
		out[ward] = row
	}
	return out, nil
}

// YearlyMeans returns the mean actual price per transaction year, oldest first.
func YearlyMeans(records []dataset.Record) []YearMean {
	byYear := make(map[int]*mean)
	for _, r := range records {
		y := int(r.TransactionYear)
		if byYear[y] == nil {
			byYear[y] = &mean{}
		}
		byYear[y].add(r.Price)
	}

	out := make([]YearMean, 0, len(byYear))
	for y, m := range byYear {
		out = append(out, YearMean{Year: y, MeanPrice: m.value(), Count: m.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// WardRows flattens the ward maps into rows sorted by ward name.
func WardRows(pred, actual map[string]int64) []WardRow {
	rows := make([]WardRow, 0, len(pred))
	for ward, p := range pred {
		rows = append(rows, WardRow{Ward: ward, Predicted: p, Actual: actual[ward]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ward < rows[j].Ward })
	return rows
}
