package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"facturo/models"
	"facturo/pkg/fingerprint"
)

// genericWorkerError is recorded when a failure callback carries no message.
const genericWorkerError = "unknown extraction worker error"

// ExtractedFields is the structured data the worker pulled out of the PDF.
// Every field is optional; extraction may be partial.
type ExtractedFields struct {
	SupplierName  *string  `json:"supplierName"`
	InvoiceNumber *string  `json:"invoiceNumber"`
	InvoiceDate   *string  `json:"invoiceDate"` // YYYY-MM-DD
	AmountHT      *float64 `json:"amountHT"`
	AmountTVA     *float64 `json:"amountTVA"`
	AmountTTC     *float64 `json:"amountTTC"`
	Currency      *string  `json:"currency"`
}

// CallbackPayload is the worker's asynchronous result for one invoice.
type CallbackPayload struct {
	InvoiceID    uuid.UUID        `json:"invoiceId" binding:"required"`
	Status       string           `json:"status" binding:"required,oneof=DONE ERROR"`
	DriveFileID  *string          `json:"driveFileId"`
	DriveFileURL *string          `json:"driveFileUrl"`
	Extracted    *ExtractedFields `json:"extracted"`
	RawText      *string          `json:"rawText"`
	ErrorMessage *string          `json:"errorMessage"`
}

// Reconciler applies a worker result back onto the originating invoice row.
type Reconciler struct {
	store InvoiceStore
}

func NewReconciler(store InvoiceStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile applies the callback. It returns false (and no error) when the
// invoice id is unknown: the callback may be a stale or replayed notification
// and must not create or mutate anything.
//
// On success results the business key is derived when all five inputs are
// present, another invoice holding the same key marks this one DUPLICATE, and
// the whole field set is applied in a single update: a reconciliation either
// fully applies or not at all.
func (r *Reconciler) Reconcile(payload *CallbackPayload) (bool, error) {
	row, err := r.store.FindByID(payload.InvoiceID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	raw, err := rawExtractionJSON(payload)
	if err != nil {
		return false, err
	}

	if payload.Status == "ERROR" {
		msg := genericWorkerError
		if payload.ErrorMessage != nil && *payload.ErrorMessage != "" {
			msg = *payload.ErrorMessage
		}
		updated, err := r.store.UpdateStatusAndFields(payload.InvoiceID, InvoicePatch{
			"status":         models.StatusError,
			"error_message":  msg,
			"raw_extraction": raw,
		})
		if err != nil {
			return false, err
		}
		return updated != nil, nil
	}

	ex := payload.Extracted
	var businessKey *string
	isDuplicate := false
	if key, ok := deriveBusinessKey(ex); ok {
		other, err := r.store.FindByBusinessKey(key, payload.InvoiceID)
		if err != nil {
			return false, err
		}
		isDuplicate = other != nil
		if !isDuplicate {
			businessKey = &key
		}
	}

	patch := extractionPatch(ex, payload, raw, businessKey, isDuplicate)
	updated, err := r.store.UpdateStatusAndFields(payload.InvoiceID, patch)
	if errors.Is(err, ErrDuplicateKey) {
		// Two callbacks derived the same fresh key concurrently and the other
		// one committed first. The constraint is the arbiter here too: retry
		// as a duplicate that owns no key.
		patch = extractionPatch(ex, payload, raw, nil, true)
		updated, err = r.store.UpdateStatusAndFields(payload.InvoiceID, patch)
	}
	if err != nil {
		return false, err
	}
	return updated != nil, nil
}

// deriveBusinessKey returns the business key when all five inputs are present
// and usable. Empty strings count as missing, matching the extraction's notion
// of "nothing found".
func deriveBusinessKey(ex *ExtractedFields) (string, bool) {
	if ex == nil {
		return "", false
	}
	if ex.SupplierName == nil || *ex.SupplierName == "" ||
		ex.InvoiceNumber == nil || *ex.InvoiceNumber == "" ||
		ex.InvoiceDate == nil || *ex.InvoiceDate == "" ||
		ex.AmountTTC == nil ||
		ex.Currency == nil || *ex.Currency == "" {
		return "", false
	}
	return fingerprint.BusinessKey(fingerprint.BusinessKeyInput{
		SupplierName:  *ex.SupplierName,
		InvoiceNumber: *ex.InvoiceNumber,
		InvoiceDate:   *ex.InvoiceDate,
		AmountTTC:     *ex.AmountTTC,
		Currency:      *ex.Currency,
	})
}

// extractionPatch builds the full field set a success callback applies.
// Missing fields are stored as NULL, currency defaults to EUR, amounts are
// fixed to two decimals (non-finite values stored as NULL) and any previous
// error message is cleared.
func extractionPatch(ex *ExtractedFields, payload *CallbackPayload, raw datatypes.JSON, businessKey *string, isDuplicate bool) InvoicePatch {
	status := models.StatusDone
	if isDuplicate {
		status = models.StatusDuplicate
	}
	patch := InvoicePatch{
		"status":         status,
		"drive_file_id":  payload.DriveFileID,
		"drive_file_url": payload.DriveFileURL,
		"supplier_name":  nil,
		"invoice_number": nil,
		"invoice_date":   nil,
		"amount_ht":      nil,
		"amount_tva":     nil,
		"amount_ttc":     nil,
		"currency":       "EUR",
		"business_key":   businessKey,
		"raw_extraction": raw,
		"error_message":  nil,
	}
	if ex != nil {
		patch["supplier_name"] = ex.SupplierName
		patch["invoice_number"] = ex.InvoiceNumber
		patch["invoice_date"] = ex.InvoiceDate
		patch["amount_ht"] = amountOrNil(ex.AmountHT)
		patch["amount_tva"] = amountOrNil(ex.AmountTVA)
		patch["amount_ttc"] = amountOrNil(ex.AmountTTC)
		if ex.Currency != nil && *ex.Currency != "" {
			patch["currency"] = normalizeCurrency(*ex.Currency)
		}
	}
	return patch
}

func amountOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	s, ok := fingerprint.Amount(*v)
	if !ok {
		return nil
	}
	return s
}

// normalizeCurrency stores currency codes in their canonical uppercase form.
func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// rawExtractionJSON packages the extraction payload for the audit column.
// Non-finite amounts are replaced with null first: encoding/json rejects NaN
// and infinities, and they are stored as null everywhere else too.
func rawExtractionJSON(payload *CallbackPayload) (datatypes.JSON, error) {
	b, err := json.Marshal(map[string]any{
		"extracted": sanitizedExtraction(payload.Extracted),
		"rawText":   payload.RawText,
	})
	if err != nil {
		return nil, fmt.Errorf("encode raw extraction: %w", err)
	}
	return datatypes.JSON(b), nil
}

func sanitizedExtraction(ex *ExtractedFields) *ExtractedFields {
	if ex == nil {
		return nil
	}
	cp := *ex
	cp.AmountHT = finiteOrNil(cp.AmountHT)
	cp.AmountTVA = finiteOrNil(cp.AmountTVA)
	cp.AmountTTC = finiteOrNil(cp.AmountTTC)
	return &cp
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
