package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"facturo/models"
)

// memStore is an in-memory InvoiceStore for unit tests. It emulates the two
// unique indexes the real store relies on, under a single mutex so concurrent
// inserts race exactly like rows contending on a constraint.
type memStore struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*models.Invoice
	writes int

	// hideFingerprintOnce makes the next FindByFingerprint for the given hash
	// miss, simulating the gap between the optimistic read and the insert.
	hideFingerprintOnce map[string]bool
	// failBusinessKeyOnce rejects the next update that sets the given key,
	// simulating a concurrent reconciliation committing first.
	failBusinessKeyOnce map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:                make(map[uuid.UUID]*models.Invoice),
		hideFingerprintOnce: make(map[string]bool),
		failBusinessKeyOnce: make(map[string]bool),
	}
}

func (m *memStore) Insert(fileName, fileHash string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.FileHash == fileHash {
			return nil, ErrDuplicateKey
		}
	}
	now := time.Now()
	inv := &models.Invoice{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.StatusUploaded,
		FileName:  fileName,
		FileHash:  fileHash,
		Currency:  "EUR",
	}
	m.rows[inv.ID] = inv
	m.writes++
	cp := *inv
	return &cp, nil
}

func (m *memStore) FindByID(id uuid.UUID) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) FindByFingerprint(fileHash string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideFingerprintOnce[fileHash] {
		delete(m.hideFingerprintOnce, fileHash)
		return nil, nil
	}
	for _, inv := range m.rows {
		if inv.FileHash == fileHash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByBusinessKey(key string, excludingID uuid.UUID) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if inv.ID != excludingID && inv.BusinessKey != nil && *inv.BusinessKey == key {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateStatusAndFields(id uuid.UUID, patch InvoicePatch) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	if v, present := patch["business_key"]; present {
		if key := patchString(v); key != nil {
			if m.failBusinessKeyOnce[*key] {
				delete(m.failBusinessKeyOnce, *key)
				return nil, ErrDuplicateKey
			}
			for oid, other := range m.rows {
				if oid != id && other.BusinessKey != nil && *other.BusinessKey == *key {
					return nil, ErrDuplicateKey
				}
			}
		}
	}
	for k, v := range patch {
		switch k {
		case "status":
			inv.Status = v.(models.InvoiceStatus)
		case "file_name":
			if s := patchString(v); s != nil {
				inv.FileName = *s
			}
		case "supplier_name":
			inv.SupplierName = patchString(v)
		case "invoice_number":
			inv.InvoiceNumber = patchString(v)
		case "invoice_date":
			inv.InvoiceDate = patchString(v)
		case "amount_ht":
			inv.AmountHT = patchString(v)
		case "amount_tva":
			inv.AmountTVA = patchString(v)
		case "amount_ttc":
			inv.AmountTTC = patchString(v)
		case "currency":
			if s := patchString(v); s != nil {
				inv.Currency = *s
			}
		case "business_key":
			inv.BusinessKey = patchString(v)
		case "drive_file_id":
			inv.DriveFileID = patchString(v)
		case "drive_file_url":
			inv.DriveFileURL = patchString(v)
		case "error_message":
			inv.ErrorMessage = patchString(v)
		case "raw_extraction":
			if j, ok := v.(datatypes.JSON); ok {
				inv.RawExtraction = j
			}
		}
	}
	inv.UpdatedAt = time.Now()
	m.writes++
	cp := *inv
	return &cp, nil
}

// patchString coerces the loosely typed patch values the way the SQL layer
// would: nil and typed-nil pointers become NULL.
func patchString(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := t
		return &s
	case *string:
		if t == nil {
			return nil
		}
		s := *t
		return &s
	case models.InvoiceStatus:
		s := string(t)
		return &s
	}
	return nil
}
