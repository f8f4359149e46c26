package dataset

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"go.uber.org/zap"
	"golang.org/x/text/width"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/logger"
)

var yearPattern = regexp.MustCompile(`(\d{4})`)

const yearMarker = "年"

// Preprocess coerces the required columns, derives transaction year and age
// bracket, and drops every row with a null anywhere. Drops are counted, never
// treated as failures.
//
// The returned frame has float columns for price, area, distance, construction
// year and transaction year, and string columns for ward, period and bracket.
func Preprocess(df dataframe.DataFrame, referenceYear int) (dataframe.DataFrame, Stats, error) {
	if df.Err != nil {
		return dataframe.DataFrame{}, Stats{}, failure.New(failure.KindValue, "preprocess", df.Err)
	}
	if _, err := ExtractRequired(df); err != nil {
		return dataframe.DataFrame{}, Stats{}, err
	}

	prices := df.Col(ColPrice).Records()
	areas := df.Col(ColArea).Records()
	distances := df.Col(ColDistance).Records()
	built := df.Col(ColBuiltYear).Records()
	wards := df.Col(ColWard).Records()
	periods := df.Col(ColPeriod).Records()

	n := df.Nrow()
	var (
		outPrice    = make([]float64, 0, n)
		outArea     = make([]float64, 0, n)
		outDistance = make([]float64, 0, n)
		outBuilt    = make([]float64, 0, n)
		outTxYear   = make([]float64, 0, n)
		outWard     = make([]string, 0, n)
		outPeriod   = make([]string, 0, n)
		outBracket  = make([]string, 0, n)
	)

	for i := 0; i < n; i++ {
		price, ok := parseFloat(prices[i])
		if !ok {
			continue
		}
		area, ok := parseFloat(areas[i])
		if !ok {
			continue
		}
		distance, ok := DistanceMinutes(distances[i])
		if !ok {
			continue
		}
		year, ok := ConstructionYear(built[i])
		if !ok {
			continue
		}
		txYear, ok := TransactionYear(periods[i])
		if !ok {
			continue
		}
		bracket, ok := BracketFor(referenceYear, year)
		if !ok {
			continue
		}
		ward := strings.TrimSpace(wards[i])
		if ward == "" {
			continue
		}

		outPrice = append(outPrice, price)
		outArea = append(outArea, area)
		outDistance = append(outDistance, distance)
		outBuilt = append(outBuilt, year)
		outTxYear = append(outTxYear, txYear)
		outWard = append(outWard, ward)
		outPeriod = append(outPeriod, periods[i])
		outBracket = append(outBracket, string(bracket))
	}

	out := dataframe.New(
		series.New(outPrice, series.Float, ColPrice),
		series.New(outArea, series.Float, ColArea),
		series.New(outDistance, series.Float, ColDistance),
		series.New(outBuilt, series.Float, ColBuiltYear),
		series.New(outWard, series.String, ColWard),
		series.New(outPeriod, series.String, ColPeriod),
		series.New(outTxYear, series.Float, ColTransactionYear),
		series.New(outBracket, series.String, ColAgeBracket),
	)
	if out.Err != nil {
		return dataframe.DataFrame{}, Stats{}, failure.New(failure.KindValue, "preprocess", out.Err)
	}

	stats := Stats{Loaded: n, Kept: out.Nrow(), Dropped: n - out.Nrow()}
	if stats.Dropped > 0 {
		logger.Info("Dropped rows with missing values",
			zap.Int("dropped", stats.Dropped),
			zap.Int("kept", stats.Kept))
	}
	return out, stats, nil
}

// Records converts a preprocessed frame into typed rows, in frame order.
func Records(df dataframe.DataFrame) ([]Record, error) {
	if df.Err != nil {
		return nil, failure.New(failure.KindValue, "records", df.Err)
	}
	for _, name := range []string{ColPrice, ColArea, ColDistance, ColBuiltYear, ColWard, ColPeriod, ColTransactionYear, ColAgeBracket} {
		if df.Col(name).Err != nil {
			return nil, failure.MissingColumns("records", []string{name})
		}
	}

	prices := df.Col(ColPrice).Float()
	areas := df.Col(ColArea).Float()
	distances := df.Col(ColDistance).Float()
	built := df.Col(ColBuiltYear).Float()
	txYears := df.Col(ColTransactionYear).Float()
	wards := df.Col(ColWard).Records()
	periods := df.Col(ColPeriod).Records()
	brackets := df.Col(ColAgeBracket).Records()

	records := make([]Record, df.Nrow())
	for i := range records {
		records[i] = Record{
			Price:            prices[i],
			Area:             areas[i],
			DistanceMinutes:  distances[i],
			ConstructionYear: built[i],
			TransactionYear:  txYears[i],
			Ward:             wards[i],
			Period:           periods[i],
			AgeBracket:       Bracket(brackets[i]),
		}
	}
	return records, nil
}

// LoadAndPreprocess runs Load, CleanColumns, ExtractRequired and Preprocess.
func (l *Loader) LoadAndPreprocess(path string, referenceYear int) (dataframe.DataFrame, Stats, error) {
	raw, err := l.Load(path)
	if err != nil {
		return dataframe.DataFrame{}, Stats{}, err
	}
	required, err := ExtractRequired(CleanColumns(raw))
	if err != nil {
		return dataframe.DataFrame{}, Stats{}, err
	}
	df, stats, err := Preprocess(required, referenceYear)
	if err != nil {
		return dataframe.DataFrame{}, Stats{}, err
	}
	logger.Info("Preprocessing complete",
		zap.String("path", path),
		zap.Int("loaded", stats.Loaded),
		zap.Int("kept", stats.Kept))
	return df, stats, nil
}

// ConstructionYear parses "1998年" style text. Anything that is not a number
// once the unit is removed is a null.
func ConstructionYear(raw string) (float64, bool) {
	return parseFloat(strings.ReplaceAll(raw, yearMarker, ""))
}

// TransactionYear returns the first four-digit run in a period such as
// "2023年第1四半期".
func TransactionYear(period string) (float64, bool) {
	m := yearPattern.FindString(width.Narrow.String(period))
	if m == "" {
		return 0, false
	}
	return parseFloat(m)
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(width.Narrow.String(strings.TrimSpace(s)), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
