package main

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Error codes exposed in the JSON error envelope.
const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeDuplicateFile   = "DUPLICATE_FILE"
	codeDispatchFailed  = "DISPATCH_FAILED"
	codeInvalidCallback = "CALLBACK_INVALID"
	codeNotFound        = "NOT_FOUND"
	codeInternalError   = "INTERNAL_ERROR"
)

var invoiceDateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// App bundles the wired components behind the HTTP handlers.
type App struct {
	cfg        Config
	store      *Store
	ingestor   *Ingestor
	reconciler *Reconciler
}

func setupRoutes(r *gin.Engine, app *App) {
	r.POST("/invoices", app.uploadInvoiceHandler)
	r.GET("/invoices", app.listInvoicesHandler)
	r.GET("/invoices/export", app.exportInvoicesHandler)
	r.GET("/invoices/:id", app.getInvoiceHandler)
	r.POST("/invoices/callback", app.callbackHandler)
}

// jsonError writes the error envelope used across the invoice API.
func jsonError(c *gin.Context, status int, code, message string, details gin.H) {
	body := gin.H{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{"error": body})
}

// uploadInvoiceHandler ingests one PDF sent as multipart form field "file".
func (a *App) uploadInvoiceHandler(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		jsonError(c, http.StatusBadRequest, codeInvalidRequest, "expected a PDF file under form field 'file'", nil)
		return
	}
	if fh.Size > a.cfg.MaxUploadBytes {
		jsonError(c, http.StatusBadRequest, codeInvalidRequest, "file too large", gin.H{"maxBytes": a.cfg.MaxUploadBytes})
		return
	}
	if ct := fh.Header.Get("Content-Type"); ct != "application/pdf" {
		jsonError(c, http.StatusBadRequest, codeInvalidRequest, "only PDF files are supported", gin.H{"receivedType": ct})
		return
	}
	f, err := fh.Open()
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "failed to read upload", nil)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "failed to read upload", nil)
		return
	}
	if err := a.validatePDF(data); err != nil {
		jsonError(c, http.StatusBadRequest, codeInvalidRequest, "file is not a valid PDF", gin.H{"reason": err.Error()})
		return
	}

	res, err := a.ingestor.Ingest(c.Request.Context(), fh.Filename, data)
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			jsonError(c, http.StatusBadGateway, codeDispatchFailed, "extraction worker unavailable", gin.H{"reason": de.Err.Error()})
			return
		}
		log.Printf("ingest %s: %v", fh.Filename, err)
		jsonError(c, http.StatusInternalServerError, codeInternalError, "internal server error", nil)
		return
	}
	if res.Duplicate {
		jsonError(c, http.StatusConflict, codeDuplicateFile, "this invoice was already uploaded", gin.H{
			"fileHash":  res.FileHash,
			"invoiceId": res.ExistingID,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": res.Invoice})
}

// validatePDF runs pdfcpu structural validation on the uploaded bytes.
// PDF_VALIDATION=none skips the check (useful against synthetic fixtures).
func (a *App) validatePDF(data []byte) error {
	if a.cfg.PDFValidation == "none" {
		return nil
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if a.cfg.PDFValidation == "strict" {
		conf.ValidationMode = model.ValidationStrict
	}
	return api.Validate(bytes.NewReader(data), conf)
}

// callbackHandler receives the extraction worker's asynchronous result. The
// shared secret is a plain header comparison; the surface is low-value and the
// secret long-lived.
func (a *App) callbackHandler(c *gin.Context) {
	if a.cfg.CallbackSecret == "" || c.GetHeader("X-Callback-Secret") != a.cfg.CallbackSecret {
		jsonError(c, http.StatusUnauthorized, codeInvalidCallback, "unauthorized", nil)
		return
	}
	var payload CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, codeInvalidCallback, "invalid callback payload", gin.H{"reason": err.Error()})
		return
	}
	if ex := payload.Extracted; ex != nil && ex.InvoiceDate != nil && *ex.InvoiceDate != "" && !invoiceDateRE.MatchString(*ex.InvoiceDate) {
		jsonError(c, http.StatusBadRequest, codeInvalidCallback, "invoiceDate must be YYYY-MM-DD", nil)
		return
	}

	applied, err := a.reconciler.Reconcile(&payload)
	if err != nil {
		log.Printf("reconcile %s: %v", payload.InvoiceID, err)
		jsonError(c, http.StatusInternalServerError, codeInternalError, "callback processing failed", gin.H{"reason": err.Error()})
		return
	}
	if !applied {
		jsonError(c, http.StatusNotFound, codeNotFound, "invoice not found", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// listInvoicesHandler returns the 20 most recent invoices.
func (a *App) listInvoicesHandler(c *gin.Context) {
	rows, err := a.store.ListRecent(20)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "query failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": rows})
}

func (a *App) getInvoiceHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		jsonError(c, http.StatusBadRequest, codeInvalidRequest, "invalid invoice id", nil)
		return
	}
	inv, err := a.store.FindByID(id)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, codeInternalError, "query failed", nil)
		return
	}
	if inv == nil {
		jsonError(c, http.StatusNotFound, codeNotFound, "invoice not found", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}
