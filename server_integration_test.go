package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"facturo/models"
)

// setupIntegrationApp wires the service against the real Postgres from DB_DSN
// and an httptest extraction worker. Integration tests are opt-in: set
// DB_DSN_TEST=1 and DB_DSN to run them.
func setupIntegrationApp(t *testing.T, workerURL string) (*gin.Engine, *Store) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	cfg := LoadConfig()
	cfg.AutoMigrate = true
	cfg.WorkerURL = workerURL
	cfg.CallbackSecret = "it-secret"
	cfg.PDFValidation = "none" // fixtures are synthetic bytes, not real PDFs
	cfg.MaxUploadBytes = 1 << 20

	db, err := initDB(cfg)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	store := NewStore(db)
	app := &App{
		cfg:        cfg,
		store:      store,
		ingestor:   NewIngestor(store, NewWorkerDispatcher(cfg.WorkerURL, &http.Client{})),
		reconciler: NewReconciler(store),
	}
	r := gin.New()
	setupRoutes(r, app)
	return r, store
}

func TestFullFlow(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()
	r, _ := setupIntegrationApp(t, worker.URL)

	// Unique content per run so reruns against the same database stay green.
	run := uuid.NewString()
	contentA := []byte("invoice-bytes-A-" + run)
	contentB := []byte("invoice-bytes-B-" + run)

	// 1. Upload A.
	body, ct := pdfUpload(t, "a.pdf", contentA)
	resp := performRequest(r, http.MethodPost, "/invoices", body, ct, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload A: status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created struct {
		Invoice models.Invoice `json:"invoice"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &created)
	if created.Invoice.Status != models.StatusProcessing {
		t.Fatalf("upload A status = %s, want PROCESSING", created.Invoice.Status)
	}

	// 2. Same bytes again -> conflict referencing the first invoice.
	body, ct = pdfUpload(t, "a-again.pdf", contentA)
	resp = performRequest(r, http.MethodPost, "/invoices", body, ct, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("re-upload A: status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 3. Upload B (distinct bytes).
	body, ct = pdfUpload(t, "b.pdf", contentB)
	resp = performRequest(r, http.MethodPost, "/invoices", body, ct, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload B: status=%d body=%s", resp.Code, resp.Body.String())
	}
	var createdB struct {
		Invoice models.Invoice `json:"invoice"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &createdB)

	// 4. Reconcile A successfully; lowercase currency normalizes to EUR.
	payload := successPayload(created.Invoice.ID)
	payload.Extracted.InvoiceNumber = strPtr("INV-" + run)
	cb, _ := json.Marshal(payload)
	resp = performRequest(r, http.MethodPost, "/invoices/callback", bytes.NewReader(cb), "application/json", "it-secret")
	if resp.Code != http.StatusOK {
		t.Fatalf("callback A: status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 5. Reconcile B with the same five fields -> DUPLICATE, key stays with A.
	payloadB := successPayload(createdB.Invoice.ID)
	payloadB.Extracted.InvoiceNumber = strPtr("INV-" + run)
	cb, _ = json.Marshal(payloadB)
	resp = performRequest(r, http.MethodPost, "/invoices/callback", bytes.NewReader(cb), "application/json", "it-secret")
	if resp.Code != http.StatusOK {
		t.Fatalf("callback B: status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 6. Verify final states through the API.
	resp = performRequest(r, http.MethodGet, "/invoices/"+created.Invoice.ID.String(), nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get A: status=%d", resp.Code)
	}
	var gotA struct {
		Invoice models.Invoice `json:"invoice"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &gotA)
	if gotA.Invoice.Status != models.StatusDone || gotA.Invoice.Currency != "EUR" || gotA.Invoice.BusinessKey == nil {
		t.Fatalf("invoice A final state wrong: %+v", gotA.Invoice)
	}

	resp = performRequest(r, http.MethodGet, "/invoices/"+createdB.Invoice.ID.String(), nil, "", "")
	var gotB struct {
		Invoice models.Invoice `json:"invoice"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &gotB)
	if gotB.Invoice.Status != models.StatusDuplicate || gotB.Invoice.BusinessKey != nil {
		t.Fatalf("invoice B final state wrong: %+v", gotB.Invoice)
	}

	// 7. Callback for an unknown invoice is a 404 no-op.
	cbUnknown, _ := json.Marshal(successPayload(uuid.New()))
	resp = performRequest(r, http.MethodPost, "/invoices/callback", bytes.NewReader(cbUnknown), "application/json", "it-secret")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown callback: status=%d", resp.Code)
	}

	// 8. Listing and export respond.
	resp = performRequest(r, http.MethodGet, "/invoices", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("list: status=%d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/invoices/export", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("export: status=%d", resp.Code)
	}
}

func TestStoreUniqueViolation(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()
	_, store := setupIntegrationApp(t, worker.URL)

	hash := "it-dup-" + uuid.NewString()
	if _, err := store.Insert("x.pdf", hash); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := store.Insert("y.pdf", hash)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second insert: got %v, want ErrDuplicateKey", err)
	}
}
