package statements

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	summarySheet    = "summary"
	statementsSheet = "statements"

	// Built-in "#,##0.00".
	moneyNumFmt = 4
	// Money columns on the statements sheet: Opening through 90+.
	firstMoneyCol = 5
	lastMoneyCol  = 13
)

// ExportRun renders a run's statements as an XLSX workbook.
func (s *Service) ExportRun(ctx context.Context, tenantID, runID int64) ([]byte, error) {
	list, err := s.AllForRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	return BuildRunWorkbook(runID, list)
}

// BuildRunWorkbook lays out a summary sheet and one row per statement. Money cells
// hold the exact decimal text as a number.
func BuildRunWorkbook(runID int64, list []Statement) ([]byte, error) {
	var sums RunSums
	for _, st := range list {
		sums.Add(st)
	}
	p := message.NewPrinter(language.English)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(statementsSheet); err != nil {
		return nil, err
	}
	w := &sheetWriter{f: f}

	summary := [][2]any{
		{"Statement run", runID},
		{"Statements", sums.Count},
		{"Opening balance", amount(p, sums.OpeningBalance)},
		{"Debits", amount(p, sums.Debits)},
		{"Credits", amount(p, sums.Credits)},
		{"Closing balance", amount(p, sums.ClosingBalance)},
	}
	for i, row := range summary {
		w.value(summarySheet, 1, i+1, row[0])
		w.value(summarySheet, 2, i+1, row[1])
	}

	headers := []string{"Number", "Account", "Name", "Due date", "Opening", "Debits", "Credits", "Closing",
		"Current", "1-30", "31-60", "61-90", "90+", "Transactions", "Email"}
	for i, h := range headers {
		w.value(statementsSheet, i+1, 1, h)
	}
	for i, st := range list {
		row := i + 2
		num := ""
		if st.StatementNumber != nil {
			num = *st.StatementNumber
		}
		w.value(statementsSheet, 1, row, num)
		w.value(statementsSheet, 2, row, st.Profile.AccountNumber)
		w.value(statementsSheet, 3, row, st.Profile.DisplayName)
		w.value(statementsSheet, 4, row, st.DueDate.Format("2006-01-02"))
		money := []decimal.Decimal{
			st.OpeningBalance, st.TotalDebits, st.TotalCredits, st.ClosingBalance,
			st.Aging.Current, st.Aging.Days1To30, st.Aging.Days31To60, st.Aging.Days61To90, st.Aging.Over90,
		}
		for c, d := range money {
			w.money(statementsSheet, firstMoneyCol+c, row, d)
		}
		w.value(statementsSheet, 14, row, st.TransactionCount)
		w.value(statementsSheet, 15, row, string(st.Delivery.Email.Status))
	}
	if w.err != nil {
		return nil, fmt.Errorf("statements: export run %d: %w", runID, w.err)
	}
	if len(list) > 0 {
		if err := styleMoney(f, len(list)+1); err != nil {
			return nil, fmt.Errorf("statements: export run %d: %w", runID, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first cell error so the layout code stays linear.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) value(sheet string, col, row int, v any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(sheet, cell, v)
}

func (w *sheetWriter) money(sheet string, col, row int, d decimal.Decimal) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellDefault(sheet, cell, d.StringFixed(2))
}

func styleMoney(f *excelize.File, lastRow int) error {
	style, err := f.NewStyle(&excelize.Style{NumFmt: moneyNumFmt})
	if err != nil {
		return err
	}
	from, err := excelize.CoordinatesToCellName(firstMoneyCol, 2)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(lastMoneyCol, lastRow)
	if err != nil {
		return err
	}
	return f.SetCellStyle(statementsSheet, from, to, style)
}

// amount renders d with thousands grouping. Only the integer part goes through
// the printer, so no digits pass through a float.
func amount(p *message.Printer, d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	frac := fixed[strings.IndexByte(fixed, '.'):]
	return sign + p.Sprint(number.Decimal(d.Truncate(0).IntPart())) + frac
}
