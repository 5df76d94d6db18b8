package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/google/uuid"
)

// Submission is what the extraction worker receives for one uploaded invoice.
type Submission struct {
	InvoiceID uuid.UUID
	FileHash  string
	FileName  string
	Data      []byte
}

// Dispatcher hands an uploaded file to the external extraction worker. The
// worker only accepts or rejects synchronously; the extraction result arrives
// later through the callback endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub Submission) error
}

// workerDispatcher posts a multipart form to the worker URL. No client timeout
// is set here: how long to wait on an unresponsive worker is a transport
// concern, configurable through the injected http.Client.
type workerDispatcher struct {
	url    string
	client *http.Client
}

func NewWorkerDispatcher(workerURL string, client *http.Client) Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &workerDispatcher{url: workerURL, client: client}
}

func (d *workerDispatcher) Dispatch(ctx context.Context, sub Submission) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("invoiceId", sub.InvoiceID.String())
	_ = mw.WriteField("fileHash", sub.FileHash)
	_ = mw.WriteField("fileName", sub.FileName)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, sub.FileName))
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("build submission: %w", err)
	}
	if _, err := part.Write(sub.Data); err != nil {
		return fmt.Errorf("build submission: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return fmt.Errorf("build submission: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker rejected submission (%d): %s", resp.StatusCode, string(msg))
	}
	return nil
}
