package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"facturo/models"
	"facturo/pkg/fingerprint"
)

// DispatchError wraps a failed hand-off to the extraction worker. The invoice
// row is retained in ERROR when this is returned, so the caller can report the
// failure while keeping an auditable record of the attempt.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("dispatch failed: %v", e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// IngestResult is the outcome of one upload. Exactly one of the two shapes is
// populated: Invoice for a fresh ingestion, or Duplicate plus ExistingID when
// the same bytes were seen before.
type IngestResult struct {
	Invoice    *models.Invoice
	Duplicate  bool
	FileHash   string
	ExistingID uuid.UUID
}

// Ingestor coordinates hashing, file dedup, insertion and worker dispatch for
// a single upload.
type Ingestor struct {
	store    InvoiceStore
	dispatch Dispatcher
}

func NewIngestor(store InvoiceStore, dispatch Dispatcher) *Ingestor {
	return &Ingestor{store: store, dispatch: dispatch}
}

// Ingest records an uploaded file and hands it to the extraction worker.
//
// Dedup is two-step: an optimistic read by fingerprint first (the cheap fast
// path), then the insert itself. A concurrent upload of the same bytes can
// still win between the read and the insert; the unique index on file_hash is
// the final arbiter, and its rejection triggers a re-read instead of a table
// lock or a serializable transaction. System-wide, exactly one insert ever
// succeeds per fingerprint.
func (ing *Ingestor) Ingest(ctx context.Context, fileName string, data []byte) (*IngestResult, error) {
	hash := fingerprint.Content(data)

	existing, err := ing.store.FindByFingerprint(hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &IngestResult{Duplicate: true, FileHash: hash, ExistingID: existing.ID}, nil
	}

	inv, err := ing.store.Insert(fileName, hash)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost the race between the read above and the insert.
		winner, ferr := ing.store.FindByFingerprint(hash)
		if ferr != nil {
			return nil, ferr
		}
		if winner != nil {
			return &IngestResult{Duplicate: true, FileHash: hash, ExistingID: winner.ID}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	sub := Submission{InvoiceID: inv.ID, FileHash: hash, FileName: fileName, Data: data}
	if err := ing.dispatch.Dispatch(ctx, sub); err != nil {
		// Keep the row as a failed attempt, then surface the failure.
		msg := err.Error()
		if _, uerr := ing.store.UpdateStatusAndFields(inv.ID, InvoicePatch{
			"status":        models.StatusError,
			"error_message": msg,
		}); uerr != nil {
			return nil, fmt.Errorf("record dispatch failure: %w", uerr)
		}
		return nil, &DispatchError{Err: err}
	}

	updated, err := ing.store.UpdateStatusAndFields(inv.ID, InvoicePatch{
		"status": models.StatusProcessing,
	})
	if err != nil {
		return nil, err
	}
	return &IngestResult{Invoice: updated, FileHash: hash}, nil
}
