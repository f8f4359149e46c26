package dataset

import (
	"errors"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estate-predictor/backend/internal/failure"
)

type rawRow struct {
	price, area, distance, built, ward, period string
}

func rawFrame(rows ...rawRow) dataframe.DataFrame {
	cols := make([][]string, 6)
	for _, r := range rows {
		for i, v := range []string{r.price, r.area, r.distance, r.built, r.ward, r.period} {
			cols[i] = append(cols[i], v)
		}
	}
	ss := make([]series.Series, len(RequiredColumns))
	for i, name := range RequiredColumns {
		ss[i] = series.New(cols[i], series.String, name)
	}
	return dataframe.New(ss...)
}

func TestPreprocessDerivesColumns(t *testing.T) {
	df := rawFrame(
		rawRow{"35,000,000", "65.5", "1H30分", "2010年", "千代田区", "2023年第1四半期"},
		rawRow{"28000000", "55", "5～10分", "2015年", "中央区", "２０２２年第３四半期"},
	)

	out, stats, err := Preprocess(df, 2025)
	require.NoError(t, err)
	assert.Equal(t, Stats{Loaded: 2, Dropped: 0, Kept: 2}, stats)

	recs, err := Records(out)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, Record{
		Price:            35_000_000,
		Area:             65.5,
		DistanceMinutes:  90,
		ConstructionYear: 2010,
		TransactionYear:  2023,
		Ward:             "千代田区",
		Period:           "2023年第1四半期",
		AgeBracket:       Bracket10To20,
	}, recs[0])
	assert.Equal(t, 7.5, recs[1].DistanceMinutes)
	assert.Equal(t, 2022.0, recs[1].TransactionYear)
	assert.Equal(t, Bracket10To20, recs[1].AgeBracket)
}

func TestPreprocessDropsOnlyNullConstructionYearRows(t *testing.T) {
	df := rawFrame(
		rawRow{"10000000", "40", "5分", "2000年", "港区", "2021年第1四半期"},
		rawRow{"20000000", "50", "6分", "戦前", "港区", "2021年第2四半期"},
		rawRow{"30000000", "60", "7分", "2005年", "港区", "2021年第3四半期"},
		rawRow{"40000000", "70", "8分", "", "港区", "2021年第4四半期"},
		rawRow{"50000000", "80", "9分", "2012年", "港区", "2022年第1四半期"},
	)

	out, stats, err := Preprocess(df, 2025)
	require.NoError(t, err)

	assert.Equal(t, df.Nrow()-2, out.Nrow())
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, []float64{10_000_000, 30_000_000, 50_000_000}, out.Col(ColPrice).Float())
}

func TestPreprocessDropsEveryKindOfNull(t *testing.T) {
	df := rawFrame(
		rawRow{"10000000", "40", "5分", "2000年", "港区", "2021年第1四半期"},
		rawRow{"n/a", "40", "5分", "2000年", "港区", "2021年第1四半期"},
		rawRow{"10000000", "", "5分", "2000年", "港区", "2021年第1四半期"},
		rawRow{"10000000", "40", "徒歩圏内", "2000年", "港区", "2021年第1四半期"},
		rawRow{"10000000", "40", "5分", "2000年", "", "2021年第1四半期"},
		rawRow{"10000000", "40", "5分", "2000年", "港区", "不明"},
		rawRow{"10000000", "40", "5分", "2030年", "港区", "2021年第1四半期"},
	)

	out, stats, err := Preprocess(df, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Nrow())
	assert.Equal(t, Stats{Loaded: 7, Dropped: 6, Kept: 1}, stats)
}

func TestPreprocessAllRowsDropped(t *testing.T) {
	df := rawFrame(rawRow{"x", "y", "z", "w", "", ""})

	out, stats, err := Preprocess(df, 2025)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Nrow())
	assert.Equal(t, 1, stats.Dropped)

	recs, err := Records(out)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPreprocessRequiresColumns(t *testing.T) {
	df := dataframe.New(series.New([]string{"1"}, series.String, ColPrice))

	_, _, err := Preprocess(df, 2025)
	assert.True(t, errors.Is(err, failure.ErrSchema))
}

func TestTransactionYear(t *testing.T) {
	y, ok := TransactionYear("2019年第4四半期")
	assert.True(t, ok)
	assert.Equal(t, 2019.0, y)

	_, ok = TransactionYear("令和元年")
	assert.False(t, ok)
}

func TestLoadAndPreprocess(t *testing.T) {
	path := writeShiftJIS(t,
		header,
		"35000000,65.5,5分,2010年,千代田区,2023年第1四半期,中古マンション等",
		"28000000,55,1H30分,戦前,中央区,2022年第3四半期,中古マンション等",
		"18000000,30,5～10分,1990年,中央区,2021年第2四半期,中古マンション等",
	)

	df, stats, err := newShiftJISLoader(t).LoadAndPreprocess(path, 2025)
	require.NoError(t, err)
	assert.Equal(t, Stats{Loaded: 3, Dropped: 1, Kept: 2}, stats)
	assert.Equal(t, []string{"千代田区", "中央区"}, df.Col(ColWard).Records())
	assert.Equal(t, []string{string(Bracket10To20), string(Bracket20Plus)}, df.Col(ColAgeBracket).Records())
}
