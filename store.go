package main

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"facturo/models"
)

// ErrDuplicateKey is returned by Store writes rejected by one of the two
// unique indexes. Callers special-case it: on insert it means another request
// won the file-hash race, on update it means the business key was claimed
// concurrently.
var ErrDuplicateKey = errors.New("duplicate key")

// InvoicePatch lists the columns a single update overwrites, keyed by column
// name. A nil value becomes SQL NULL. Replaying the same patch is idempotent:
// it is a blind overwrite, not a compare-and-swap.
type InvoicePatch map[string]any

// InvoiceStore is the storage surface the orchestrator and the reconciler
// depend on. Lookups return (nil, nil) when no row matches.
type InvoiceStore interface {
	Insert(fileName, fileHash string) (*models.Invoice, error)
	FindByID(id uuid.UUID) (*models.Invoice, error)
	FindByFingerprint(fileHash string) (*models.Invoice, error)
	// FindByBusinessKey looks for another invoice holding key, excluding the
	// invoice being reconciled.
	FindByBusinessKey(key string, excludingID uuid.UUID) (*models.Invoice, error)
	// UpdateStatusAndFields applies patch to the row and returns the updated
	// row, or (nil, nil) when the id is unknown.
	UpdateStatusAndFields(id uuid.UUID, patch InvoicePatch) (*models.Invoice, error)
}

// Store is the Postgres-backed InvoiceStore. Each call holds a connection only
// for its own statement; nothing is kept open across the worker dispatch.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// isUniqueViolation reports whether err is a unique-constraint rejection.
// Postgres signals these as SQLSTATE 23505; the string match is kept as a
// fallback for wrapped driver errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint")
}

func (s *Store) Insert(fileName, fileHash string) (*models.Invoice, error) {
	inv := &models.Invoice{
		ID:       uuid.New(),
		Status:   models.StatusUploaded,
		FileName: fileName,
		FileHash: fileHash,
		Currency: "EUR",
	}
	if err := s.db.Create(inv).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return inv, nil
}

func (s *Store) FindByID(id uuid.UUID) (*models.Invoice, error) {
	return s.first("id = ?", id)
}

func (s *Store) FindByFingerprint(fileHash string) (*models.Invoice, error) {
	return s.first("file_hash = ?", fileHash)
}

func (s *Store) FindByBusinessKey(key string, excludingID uuid.UUID) (*models.Invoice, error) {
	return s.first("business_key = ? AND id <> ?", key, excludingID)
}

func (s *Store) first(query string, args ...any) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.Where(query, args...).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) UpdateStatusAndFields(id uuid.UUID, patch InvoicePatch) (*models.Invoice, error) {
	res := s.db.Model(&models.Invoice{}).Where("id = ?", id).Updates(map[string]any(patch))
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrDuplicateKey
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.FindByID(id)
}

// ListRecent returns the newest invoices, most recent first.
func (s *Store) ListRecent(limit int) ([]models.Invoice, error) {
	var rows []models.Invoice
	if err := s.db.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAll returns every invoice, oldest first, for exports.
func (s *Store) ListAll() ([]models.Invoice, error) {
	var rows []models.Invoice
	if err := s.db.Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailStaleProcessing moves PROCESSING rows not touched for maxAge to ERROR.
// PROCESSING -> ERROR is a legal transition for an extraction that never
// reported back; rows are retained for audit like any other failed attempt.
func (s *Store) FailStaleProcessing(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := s.db.Model(&models.Invoice{}).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":        models.StatusError,
			"error_message": "extraction worker never called back",
		})
	return res.RowsAffected, res.Error
}
