package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"facturo/models"
)

const exportSheet = "Invoices"

// exportInvoicesHandler streams every invoice as an XLSX workbook.
func (a *App) exportInvoicesHandler(c *gin.Context) {
	rows, err := a.store.ListAll()
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "query failed", nil)
		return
	}
	buf, err := invoicesXLSX(rows)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "export failed", nil)
		return
	}
	name := fmt.Sprintf("invoices-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf)
}

// invoicesXLSX renders the invoice rows into a workbook.
func invoicesXLSX(rows []models.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"ID", "Status", "File name", "File hash",
		"Supplier", "Invoice number", "Invoice date",
		"Amount HT", "Amount TVA", "Amount TTC", "Currency",
		"Business key", "Error", "Created at",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for r, inv := range rows {
		values := []any{
			inv.ID.String(),
			string(inv.Status),
			inv.FileName,
			inv.FileHash,
			deref(inv.SupplierName),
			deref(inv.InvoiceNumber),
			deref(inv.InvoiceDate),
			deref(inv.AmountHT),
			deref(inv.AmountTVA),
			deref(inv.AmountTTC),
			inv.Currency,
			deref(inv.BusinessKey),
			deref(inv.ErrorMessage),
			inv.CreatedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	out, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
