package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loanflow/internal/circulation"
)

// ErrConnectionFailed indicates the OpenSearch client could not be
// created due to configuration or network issues.
var ErrConnectionFailed = errors.New("opensearch connection failed")

// NewClient creates a new OpenSearch client from the config.
func NewClient(cfg Config) (*opensearch.Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return client, nil
}

// LoanIndex implements the circulation search collaborator on OpenSearch.
// Writes use refresh=true: availability checks read their own writes, and
// circulation desks do not produce index-heavy traffic.
type LoanIndex struct {
	client *opensearch.Client
	index  string
	tracer trace.Tracer
}

// NewLoanIndex creates the loan index adapter.
func NewLoanIndex(client *opensearch.Client, index string) *LoanIndex {
	return &LoanIndex{
		client: client,
		index:  index,
		tracer: otel.Tracer("loanflow/search"),
	}
}

// Index writes the loan document, replacing any previous version.
func (li *LoanIndex) Index(ctx context.Context, loan *circulation.Loan) error {
	ctx, span := li.tracer.Start(ctx, "loanindex.index",
		trace.WithAttributes(attribute.String("loan.pid", loan.PID)))
	defer span.End()

	body, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("marshal loan '%s': %w", loan.PID, err)
	}
	req := opensearchapi.IndexRequest{
		Index:      li.index,
		DocumentID: loan.PID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, li.client)
	if err != nil {
		return fmt.Errorf("index loan '%s': %w", loan.PID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index loan '%s': %s", loan.PID, res.String())
	}
	return nil
}

// searchPageSize caps one page of hits. Search keeps requesting the next
// page until a short one signals the end.
const searchPageSize = 500

// Search returns every loan summary matching the filters. Results are
// fetched page by page with search_after so hits beyond the server's
// per-request cap are not lost; the pending-request cascade depends on
// seeing all of them.
func (li *LoanIndex) Search(ctx context.Context, f circulation.Filters) ([]circulation.LoanSummary, error) {
	ctx, span := li.tracer.Start(ctx, "loanindex.search")
	defer span.End()

	var (
		summaries []circulation.LoanSummary
		after     []any
	)
	for {
		body, err := buildSearchBody(f, searchPageSize, after)
		if err != nil {
			return nil, err
		}
		req := opensearchapi.SearchRequest{
			Index: []string{li.index},
			Body:  bytes.NewReader(body),
		}
		res, err := req.Do(ctx, li.client)
		if err != nil {
			return nil, fmt.Errorf("search loans: %w", err)
		}
		if res.IsError() {
			msg := res.String()
			res.Body.Close()
			return nil, fmt.Errorf("search loans: %s", msg)
		}
		page, next, err := decodeHits(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, page...)
		if len(page) < searchPageSize || next == nil {
			span.SetAttributes(attribute.Int("hits.total", len(summaries)))
			return summaries, nil
		}
		after = next
	}
}

// Count returns the number of loans matching the filters.
func (li *LoanIndex) Count(ctx context.Context, f circulation.Filters) (int, error) {
	ctx, span := li.tracer.Start(ctx, "loanindex.count")
	defer span.End()

	body, err := BuildQuery(f)
	if err != nil {
		return 0, err
	}
	req := opensearchapi.CountRequest{
		Index: []string{li.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, li.client)
	if err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count loans: %s", res.String())
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return out.Count, nil
}

// BuildQuery translates the filters into an OpenSearch bool query. One of
// the item, document or patron filters is required, mirroring the search
// contract the transitions rely on.
func BuildQuery(f circulation.Filters) ([]byte, error) {
	boolQuery, err := filterQuery(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"query": map[string]any{"bool": boolQuery},
	})
}

func filterQuery(f circulation.Filters) (map[string]any, error) {
	var filter []map[string]any
	switch {
	case f.DocumentPID != "":
		filter = append(filter, term("document_pid", f.DocumentPID))
	case f.ItemPID != nil:
		filter = append(filter,
			term("item_pid.type", f.ItemPID.Type),
			term("item_pid.value", f.ItemPID.Value),
		)
	case f.PatronPID != "":
		filter = append(filter, term("patron_pid", f.PatronPID))
	default:
		return nil, &circulation.Error{
			Code:        circulation.CodePropertyRequired,
			Description: "one of the properties 'item_pid', 'document_pid' or 'patron_pid' is required",
		}
	}

	if len(f.StatesIn) > 0 {
		filter = append(filter, map[string]any{
			"terms": map[string]any{"state": f.StatesIn},
		})
	}
	boolQuery := map[string]any{"filter": filter}
	if len(f.StatesNotIn) > 0 {
		boolQuery["must_not"] = []map[string]any{
			{"terms": map[string]any{"state": f.StatesNotIn}},
		}
	}
	return boolQuery, nil
}

// buildSearchBody wraps the filter query with an explicit page size, a
// deterministic sort and the search_after cursor of the previous page.
func buildSearchBody(f circulation.Filters, size int, after []any) ([]byte, error) {
	boolQuery, err := filterQuery(f)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"sort":  []map[string]any{{"pid.keyword": "asc"}},
	}
	if after != nil {
		body["search_after"] = after
	}
	return json.Marshal(body)
}

func term(field string, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// decodeHits returns the page's summaries and the sort cursor of its last
// hit, the search_after value for the next page.
func decodeHits(body io.Reader) ([]circulation.LoanSummary, []any, error) {
	var out struct {
		Hits struct {
			Hits []struct {
				Source circulation.LoanSummary `json:"_source"`
				Sort   []any                   `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("decode search response: %w", err)
	}
	summaries := make([]circulation.LoanSummary, 0, len(out.Hits.Hits))
	var last []any
	for _, hit := range out.Hits.Hits {
		summaries = append(summaries, hit.Source)
		last = hit.Sort
	}
	return summaries, last, nil
}
