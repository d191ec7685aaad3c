// Package tabular reads and writes header-first tables as xlsx workbooks or
// CSV files. It is shared by the export and import coordinators.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Format is a supported file format
// 対応ファイル形式
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ErrUnsupportedFormat is returned for any other extension or format name
// 未対応のファイル形式
var ErrUnsupportedFormat = errors.New("未対応のファイル形式です")

const defaultSheet = "Sheet1"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFormat accepts "xlsx" or "csv" in any case
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
}

// FormatFromFilename picks the format from the file extension
// ファイル拡張子から形式を判定
func FormatFromFilename(name string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: 拡張子がありません (%s)", ErrUnsupportedFormat, name)
	}
	return ParseFormat(ext)
}

// Extension returns the file extension including the dot
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type used when serving the file
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Record is one data row keyed by normalized header
// ヘッダーをキーとした1行分のデータ
type Record struct {
	Line   int               // ファイル上の行番号（1始まり、ヘッダーが1行目）
	Values map[string]string // 列名 → 値
}

// Get returns the trimmed value of a column, empty when absent
func (r Record) Get(column string) string {
	return strings.TrimSpace(r.Values[NormalizeHeader(column)])
}

// NormalizeHeader lower-cases a header and joins words with underscores
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, string(utf8BOM)))
	h = strings.ToLower(h)
	return strings.Join(strings.Fields(h), "_")
}

// Write renders headers and rows in the given format. Cell values are
// formatted with FormatCell.
// ヘッダーと行データを指定形式で書き出す
func Write(w io.Writer, format Format, sheet string, headers []string, rows [][]any) error {
	switch format {
	case FormatXLSX:
		return writeXLSX(w, sheet, headers, rows)
	case FormatCSV:
		return writeCSV(w, headers, rows)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func writeXLSX(w io.Writer, sheet string, headers []string, rows [][]any) error {
	if sheet == "" {
		sheet = defaultSheet
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return fmt.Errorf("シート名の設定に失敗しました: %w", err)
	}

	boldStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("スタイル作成に失敗しました: %w", err)
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("ヘッダー書き込みに失敗しました: %w", err)
	}
	if len(headers) > 0 {
		last, _ := excelize.ColumnNumberToName(len(headers))
		if err := f.SetCellStyle(sheet, "A1", last+"1", boldStyle); err != nil {
			return fmt.Errorf("ヘッダースタイル設定に失敗しました: %w", err)
		}
	}

	for i, row := range rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = xlsxValue(v)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("%d行目の書き込みに失敗しました: %w", i+2, err)
		}
	}

	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, 18)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx書き出しに失敗しました: %w", err)
	}
	return nil
}

// xlsxValue keeps numbers numeric in the workbook and stringifies the rest
func xlsxValue(v any) any {
	switch t := v.(type) {
	case int, int32, int64, float64, string:
		return t
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	}
	return FormatCell(v)
}

func writeCSV(w io.Writer, headers []string, rows [][]any) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("csv書き出しに失敗しました: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("csvヘッダー書き込みに失敗しました: %w", err)
	}
	record := make([]string, 0, len(headers))
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, FormatCell(v))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv行書き込みに失敗しました: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatCell renders a value as cell text
// セル値を文字列に変換
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case decimal.Decimal:
		return t.StringFixed(2)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// Read parses a table whose first row is the header. Blank rows are skipped.
// 先頭行をヘッダーとして表データを読み込む
func Read(r io.Reader, format Format) ([]Record, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatXLSX:
		rows, err = readXLSX(r)
	case FormatCSV:
		rows, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("ヘッダー行がありません")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = NormalizeHeader(h)
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		values := make(map[string]string, len(headers))
		for j, h := range headers {
			if h == "" || j >= len(row) {
				continue
			}
			values[h] = row[j]
		}
		records = append(records, Record{Line: i + 2, Values: values})
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsxファイルを開けません: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("シート %s の読み込みに失敗しました: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("csv読み込みに失敗しました: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv解析に失敗しました: %w", err)
	}
	return rows, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
