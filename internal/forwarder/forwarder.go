// Package forwarder implements Forwarder: serializing a mutating request over
// HTTP to the current master node and mapping its response back to the
// registry's typed errors (SPEC_FULL.md §4.5).
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"schemaregistry/internal/identity"
	"schemaregistry/internal/regerr"
)

// registerRequest is the wire body POSTed to /subjects/{subject}/versions.
type registerRequest struct {
	Schema     string `json:"schema"`
	SchemaType string `json:"schemaType,omitempty"`
}

type registerResponse struct {
	ID int32 `json:"id"`
}

// Forwarder serializes mutating requests to the master node's HTTP API and
// maps its response back to the caller. Reads (Lookup, Get) are never
// forwarded: every node tails the same replicated log, so they are served
// from local state regardless of mastership.
type Forwarder struct {
	client *http.Client
}

// New builds a Forwarder with the given per-request timeout.
func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{client: &http.Client{Timeout: timeout}}
}

// Register forwards a registration request to master, carrying headers
// (e.g. auth) verbatim.
func (f *Forwarder) Register(ctx context.Context, master identity.Identity, subject, schemaText, schemaType string, headers map[string]string) (int32, error) {
	url := fmt.Sprintf("http://%s/subjects/%s/versions", master.String(), subject)
	body, err := json.Marshal(registerRequest{Schema: schemaText, SchemaType: schemaType})
	if err != nil {
		return 0, regerr.Wrap(regerr.KindForwardingError, "marshal forward request", err)
	}

	var resp registerResponse
	if err := f.do(ctx, http.MethodPost, url, body, headers, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (f *Forwarder) do(ctx context.Context, method, url string, body []byte, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return regerr.Wrap(regerr.KindForwardingError, "build forward request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return regerr.Wrap(regerr.KindForwardingError, "contact master", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return regerr.Wrap(regerr.KindForwardingError, "read master response", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return regerr.WithStatus(regerr.KindIncompatibleSchema, "master rejected as incompatible", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest {
		return regerr.WithStatus(regerr.KindInvalidSchema, "master rejected as invalid", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return regerr.WithStatus(regerr.KindForwardingError, "master returned server error", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return regerr.WithStatus(regerr.KindForwardingError, "master returned client error", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return regerr.Wrap(regerr.KindForwardingError, "decode master response", err)
	}
	return nil
}
