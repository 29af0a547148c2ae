// internal/clients/catalog_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"loanflow/internal/circulation"
)

// Item is the catalog's view of a physical item, reduced to the fields
// circulation policy decisions need.
type Item struct {
	PID         circulation.PID `json:"pid"`
	DocumentPID string          `json:"document_pid"`
	LocationPID string          `json:"location_pid"`
	Circulates  bool            `json:"circulates"`
}

// Document is the catalog's view of a bibliographic document.
type Document struct {
	PID         string `json:"pid"`
	Requestable bool   `json:"requestable"`
}

// CatalogClient talks to the catalog service. Calls go through a circuit
// breaker and retry transient failures with exponential backoff; a 404 is
// a definitive answer, not a failure.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "catalog",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
		}),
	}
}

// BaseURL returns the catalog service base URL, used by the ref builders.
func (c *CatalogClient) BaseURL() string { return c.baseURL }

// GetItem fetches an item; found is false when the catalog does not know
// the pid.
func (c *CatalogClient) GetItem(ctx context.Context, pid circulation.PID) (*Item, bool, error) {
	path := fmt.Sprintf("%s/api/v1/catalog/items/%s/%s",
		c.baseURL, url.PathEscape(pid.Type), url.PathEscape(pid.Value))
	item := &Item{}
	found, err := getJSON(ctx, c.http, c.breaker, path, item)
	if err != nil || !found {
		return nil, found, err
	}
	return item, true, nil
}

// GetDocument fetches a document; found is false when it does not exist.
func (c *CatalogClient) GetDocument(ctx context.Context, pid string) (*Document, bool, error) {
	path := fmt.Sprintf("%s/api/v1/catalog/documents/%s", c.baseURL, url.PathEscape(pid))
	doc := &Document{}
	found, err := getJSON(ctx, c.http, c.breaker, path, doc)
	if err != nil || !found {
		return nil, found, err
	}
	return doc, true, nil
}

// ItemsByDocument lists the item pids attached to a document.
func (c *CatalogClient) ItemsByDocument(ctx context.Context, documentPID string) ([]circulation.PID, error) {
	path := fmt.Sprintf("%s/api/v1/catalog/documents/%s/items", c.baseURL, url.PathEscape(documentPID))
	var out struct {
		Items []circulation.PID `json:"items"`
	}
	found, err := getJSON(ctx, c.http, c.breaker, path, &out)
	if err != nil || !found {
		return nil, err
	}
	return out.Items, nil
}

// LocationExists reports whether the catalog knows the location pid.
func (c *CatalogClient) LocationExists(ctx context.Context, locationPID string) (bool, error) {
	path := fmt.Sprintf("%s/api/v1/catalog/locations/%s", c.baseURL, url.PathEscape(locationPID))
	var out struct{}
	return getJSON(ctx, c.http, c.breaker, path, &out)
}

// getJSON performs a GET through the breaker, retrying transient failures.
// It reports whether the resource exists; a 404 comes back as (false, nil).
func getJSON(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker, rawURL string, out any) (bool, error) {
	result, err := breaker.Execute(func() (any, error) {
		return backoff.Retry(ctx, func() (bool, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return false, backoff.Permanent(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return false, err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return false, backoff.Permanent(fmt.Errorf("decode %s: %w", rawURL, err))
				}
				return true, nil
			case resp.StatusCode == http.StatusNotFound:
				return false, nil
			case resp.StatusCode >= 500:
				return false, fmt.Errorf("GET %s: unexpected status code %d", rawURL, resp.StatusCode)
			default:
				return false, backoff.Permanent(
					fmt.Errorf("GET %s: unexpected status code %d", rawURL, resp.StatusCode))
			}
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}
