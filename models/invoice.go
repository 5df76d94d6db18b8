package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InvoiceStatus is the lifecycle status of an invoice. The set is closed:
// every transition site switches exhaustively over these values.
type InvoiceStatus string

const (
	// StatusUploaded is the initial status, set when the row is inserted.
	StatusUploaded InvoiceStatus = "UPLOADED"
	// StatusProcessing means the file was handed to the extraction worker.
	StatusProcessing InvoiceStatus = "PROCESSING"
	// StatusDone is terminal: extraction succeeded and no duplicate was found.
	StatusDone InvoiceStatus = "DONE"
	// StatusError is terminal: either the dispatch or the extraction failed.
	StatusError InvoiceStatus = "ERROR"
	// StatusDuplicate is terminal: another invoice already owns the same
	// business key. Duplicate rows never hold a business key themselves.
	StatusDuplicate InvoiceStatus = "DUPLICATE"
)

// Terminal reports whether no further transition may occur from s.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusDuplicate:
		return true
	case StatusUploaded, StatusProcessing:
		return false
	}
	return false
}

// Invoice is the single durable record produced by an upload and completed by
// the extraction callback. FileName and FileHash are immutable after creation;
// everything else is filled in by the reconciliation. Rows are never deleted.
type Invoice struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Status InvoiceStatus `gorm:"size:16;not null;default:UPLOADED;index" json:"status"`

	FileName string `gorm:"size:255;not null" json:"fileName"`
	FileHash string `gorm:"size:64;not null;uniqueIndex" json:"fileHash"`

	// Reference to the archived copy of the file, reported by the worker.
	DriveFileID  *string `gorm:"size:255" json:"driveFileId"`
	DriveFileURL *string `gorm:"size:512" json:"driveFileUrl"`

	SupplierName  *string `gorm:"size:255" json:"supplierName"`
	InvoiceNumber *string `gorm:"size:255" json:"invoiceNumber"`
	InvoiceDate   *string `gorm:"size:10" json:"invoiceDate"` // YYYY-MM-DD

	// Amounts are fixed-point decimal strings with two fraction digits.
	AmountHT  *string `gorm:"type:numeric(12,2)" json:"amountHT"`
	AmountTVA *string `gorm:"type:numeric(12,2)" json:"amountTVA"`
	AmountTTC *string `gorm:"type:numeric(12,2)" json:"amountTTC"`
	Currency  string  `gorm:"size:8;not null;default:EUR" json:"currency"`

	// BusinessKey is null until a successful reconciliation derives it, and
	// stays null for DUPLICATE rows so the original keeps sole ownership.
	BusinessKey   *string        `gorm:"size:64;uniqueIndex" json:"businessKey"`
	RawExtraction datatypes.JSON `gorm:"type:jsonb" json:"rawExtraction"`
	ErrorMessage  *string        `gorm:"size:1024" json:"errorMessage"`
}
