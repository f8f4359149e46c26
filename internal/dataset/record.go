package dataset

// Source headers of the transaction CSV.
const (
	ColPrice     = "取引価格（総額）"
	ColArea      = "面積（㎡）"
	ColDistance  = "最寄駅：距離（分）"
	ColBuiltYear = "建築年"
	ColWard      = "市区町村名"
	ColPeriod    = "取引時期"
)

// Columns added by Preprocess.
const (
	ColTransactionYear = "取引年"
	ColAgeBracket      = "築年帯"
)

// RequiredColumns is the canonical order used for extraction and for schema
// error messages.
var RequiredColumns = []string{
	ColPrice,
	ColArea,
	ColDistance,
	ColBuiltYear,
	ColWard,
	ColPeriod,
}

const DefaultReferenceYear = 2025

type Bracket string

const (
	BracketUnder10 Bracket = "under 10 years"
	Bracket10To20  Bracket = "10–20 years"
	Bracket20Plus  Bracket = "20+ years"
)

// Brackets lists the age brackets in category order. The first one is the
// reference level dropped by one-hot encoding.
var Brackets = []Bracket{BracketUnder10, Bracket10To20, Bracket20Plus}

var bracketEdges = []float64{0, 10, 20, 999}

// BracketForAge buckets a building age into [0,10), [10,20) or [20,999).
// Ages outside [0,999) have no bracket.
func BracketForAge(age float64) (Bracket, bool) {
	for i := 0; i < len(Brackets); i++ {
		if age >= bracketEdges[i] && age < bracketEdges[i+1] {
			return Brackets[i], true
		}
	}
	return "", false
}

// BracketFor buckets the age of a building constructed in constructionYear,
// measured at referenceYear.
func BracketFor(referenceYear int, constructionYear float64) (Bracket, bool) {
	return BracketForAge(float64(referenceYear) - constructionYear)
}

// Record is one preprocessed transaction.
type Record struct {
	Price            float64
	Area             float64
	DistanceMinutes  float64
	ConstructionYear float64
	TransactionYear  float64
	Ward             string
	Period           string
	AgeBracket       Bracket
}

// Stats summarizes what Preprocess kept.
type Stats struct {
	Loaded  int
	Dropped int
	Kept    int
}
