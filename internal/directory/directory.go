// Package directory is the remote key-directory boundary. It is consulted
// only for recipients the local keyring does not know; a directory failure
// degrades recipient validation, it never fails it.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrLookupFailed = errors.New("directory: lookup failed")

// Client resolves recipients against a remote directory and imports any
// keys it finds. The returned map reports validity per requested
// recipient; absent entries read as invalid.
type Client interface {
	FetchAndImport(ctx context.Context, recipients []string) (map[string]bool, error)
}

// Importer receives identities the directory discovered, normally the
// local keyring's public scope.
type Importer interface {
	Import(uids []string)
}

type lookupRequest struct {
	Recipients []string `json:"recipients"`
}

type lookupResponse struct {
	Results map[string]bool `json:"results"`
}

// HTTP queries a key-directory service over JSON.
type HTTP struct {
	BaseURL  string
	Client   *http.Client
	Importer Importer
}

func NewHTTP(baseURL string, timeout time.Duration, importer Importer) *HTTP {
	return &HTTP{
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: timeout},
		Importer: importer,
	}
}

func (d *HTTP) FetchAndImport(ctx context.Context, recipients []string) (map[string]bool, error) {
	body, err := json.Marshal(lookupRequest{Recipients: recipients})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/v1/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if decoded.Results == nil {
		decoded.Results = map[string]bool{}
	}

	if d.Importer != nil {
		var found []string
		for recipient, valid := range decoded.Results {
			if valid {
				found = append(found, recipient)
			}
		}
		if len(found) > 0 {
			d.Importer.Import(found)
		}
	}
	return decoded.Results, nil
}

// Disabled always fails lookups. Running without a directory leaves
// locally unknown recipients invalid, which is the documented degraded
// behavior.
type Disabled struct{}

func (Disabled) FetchAndImport(context.Context, []string) (map[string]bool, error) {
	return nil, fmt.Errorf("%w: no directory configured", ErrLookupFailed)
}
