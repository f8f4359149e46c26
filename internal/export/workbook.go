// Package export writes a prediction result as an xlsx workbook.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/prediction"
)

const (
	SheetSummary    = "Summary"
	SheetByWard     = "By Ward"
	SheetByEra      = "By Era"
	SheetImportance = "Importance"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type sheet struct {
	name   string
	header []string
	widths []float64
	rows   [][]interface{}
}

// Workbook renders result into xlsx bytes.
func Workbook(result *prediction.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	yenStyle, err := f.NewStyle(&excelize.Style{NumFmt: 3})
	if err != nil {
		return nil, fmt.Errorf("failed to create number style: %w", err)
	}

	sheets := []sheet{summarySheet(result), wardSheet(result), eraSheet(result), importanceSheet(result)}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if err := writeSheet(f, s, headerStyle, yenStyle); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders result and saves it at path.
func WriteFile(result *prediction.Result, path string) error {
	data, err := Workbook(result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func writeSheet(f *excelize.File, s sheet, headerStyle, yenStyle int) error {
	if err := f.SetSheetRow(s.name, "A1", &s.header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", s.name, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(s.header), 1)
	if err := f.SetCellStyle(s.name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", s.name, err)
	}

	for i, row := range s.rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(s.name, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", s.name, i+2, err)
		}
		for j, v := range row {
			if _, ok := v.(int64); ok {
				c, _ := excelize.CoordinatesToCellName(j+1, i+2)
				if err := f.SetCellStyle(s.name, c, c, yenStyle); err != nil {
					return fmt.Errorf("failed to style %s: %w", c, err)
				}
			}
		}
	}

	for i, w := range s.widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(s.name, col, col, w); err != nil {
			return fmt.Errorf("failed to set %s width: %w", s.name, err)
		}
	}
	return nil
}

func summarySheet(r *prediction.Result) sheet {
	return sheet{
		name:   SheetSummary,
		header: []string{"Metric", "Value"},
		widths: []float64{24, 24},
		rows: [][]interface{}{
			{"Source", r.Source},
			{"Run ID", r.RunID},
			{"RMSE", r.RMSE},
			{"R²", r.R2},
			{"MAE", r.Metrics.MAE},
			{"Within 10%", r.Metrics.Within10Percent},
			{"Within 20%", r.Metrics.Within20Percent},
			{"Rows loaded", r.Rows.Loaded},
			{"Rows dropped", r.Rows.Dropped},
			{"Rows used", r.Rows.Used},
			{"Train rows", r.Rows.Train},
			{"Test rows", r.Rows.Test},
			{"Reference year", r.ReferenceYear},
			{"Columns version", r.ColumnsVersion},
			{"Created at", r.CreatedAt.Format("2006-01-02 15:04:05")},
		},
	}
}

func wardSheet(r *prediction.Result) sheet {
	s := sheet{
		name:   SheetByWard,
		header: []string{"Ward", "Predicted mean", "Actual mean"},
		widths: []float64{16, 18, 18},
	}
	for _, w := range r.WardRows() {
		s.rows = append(s.rows, []interface{}{w.Ward, w.Predicted, w.Actual})
	}
	return s
}

func eraSheet(r *prediction.Result) sheet {
	s := sheet{name: SheetByEra, header: []string{"Ward"}, widths: []float64{16}}
	for _, b := range dataset.Brackets {
		s.header = append(s.header, string(b))
		s.widths = append(s.widths, 18)
	}

	wards := make([]string, 0, len(r.WardEraPredictions))
	for w := range r.WardEraPredictions {
		wards = append(wards, w)
	}
	sort.Strings(wards)

	for _, w := range wards {
		row := []interface{}{w}
		for _, b := range dataset.Brackets {
			row = append(row, r.WardEraPredictions[w][string(b)])
		}
		s.rows = append(s.rows, row)
	}
	return s
}

func importanceSheet(r *prediction.Result) sheet {
	s := sheet{
		name:   SheetImportance,
		header: []string{"Feature", "Importance"},
		widths: []float64{32, 14},
	}
	for _, f := range r.Importance {
		s.rows = append(s.rows, []interface{}{f.Feature, f.Importance})
	}
	return s
}
