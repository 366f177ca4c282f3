// Package export renders balance sheets and bill lists as XLSX and PDF.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	balance "community-billing/internal/balance/domain"
	billing "community-billing/internal/billing/domain"
	period "community-billing/internal/period/domain"
)

// BuildBalanceSheetPDF renders a balance sheet with a totals line.
func BuildBalanceSheetPDF(p *period.ServicePeriod, sheet balance.Sheet) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Balance Sheet")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", p.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From %s to %s", p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", p.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{50, 35, 35, 35, 35}
	header := []string{"Owner", "Contributions", "Expenses", "Charges", "Balance"}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range header {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	writeRow := func(name string, r balance.Row) {
		pdf.CellFormat(widths[0], 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, r.Contributions.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, r.Expenses.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, r.Charges.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, r.Balance.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	for _, r := range sheet.Rows {
		writeRow(r.OwnerName, r)
	}
	pdf.SetFont("Arial", "B", 10)
	writeRow("Total", sheet.Summary())

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBalanceSheetXLSX renders a balance sheet workbook.
func BuildBalanceSheetXLSX(p *period.ServicePeriod, sheet balance.Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	rowsSheet := "balances"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rowsSheet); err != nil {
		return nil, err
	}

	total := sheet.Summary()
	_ = f.SetCellValue(summarySheet, "A1", "Balance Sheet")
	_ = f.SetCellValue(summarySheet, "A3", "Period")
	_ = f.SetCellValue(summarySheet, "B3", p.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Start")
	_ = f.SetCellValue(summarySheet, "B4", p.StartDate.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "End")
	_ = f.SetCellValue(summarySheet, "B5", p.EndDate.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Status")
	_ = f.SetCellValue(summarySheet, "B6", string(p.Status))
	_ = f.SetCellValue(summarySheet, "A7", "Total Contributions")
	_ = f.SetCellValue(summarySheet, "B7", total.Contributions.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Total Charges")
	_ = f.SetCellValue(summarySheet, "B8", total.Charges.Add(total.Expenses).InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A9", "Total Balance")
	_ = f.SetCellValue(summarySheet, "B9", total.Balance.InexactFloat64())

	for i, h := range []string{"Owner ID", "Owner", "Contributions", "Expenses", "Charges", "Balance"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(rowsSheet, cell, h)
	}
	for i, r := range sheet.Rows {
		row := i + 2
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("A%d", row), r.OwnerID)
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("B%d", row), r.OwnerName)
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("C%d", row), r.Contributions.InexactFloat64())
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("D%d", row), r.Expenses.InexactFloat64())
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("E%d", row), r.Charges.InexactFloat64())
		_ = f.SetCellValue(rowsSheet, fmt.Sprintf("F%d", row), r.Balance.InexactFloat64())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBillsXLSX renders the bills of a period, one row per bill.
func BuildBillsXLSX(p *period.ServicePeriod, bills []billing.Bill) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "bills"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, h := range []string{"Period", "Type", "Account", "Property", "Amount", "Comment", "Updated"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, b := range bills {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), p.Name)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), string(b.Type))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), b.AccountID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), b.PropertyID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), b.Amount.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), b.Comment)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), b.UpdatedAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
