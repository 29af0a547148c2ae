package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/internal/circulation"
)

func TestBuildQueryByDocument(t *testing.T) {
	raw, err := BuildQuery(circulation.Filters{DocumentPID: "doc1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": {"bool": {"filter": [
			{"term": {"document_pid": "doc1"}}
		]}}
	}`, string(raw))
}

func TestBuildQueryByItemWithStates(t *testing.T) {
	item := circulation.PID{Type: "item", Value: "item1"}
	raw, err := BuildQuery(circulation.Filters{
		ItemPID:  &item,
		StatesIn: []string{"ITEM_ON_LOAN", "ITEM_AT_DESK"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": {"bool": {"filter": [
			{"term": {"item_pid.type": "item"}},
			{"term": {"item_pid.value": "item1"}},
			{"terms": {"state": ["ITEM_ON_LOAN", "ITEM_AT_DESK"]}}
		]}}
	}`, string(raw))
}

func TestBuildQueryByPatronExcludingStates(t *testing.T) {
	raw, err := BuildQuery(circulation.Filters{
		PatronPID:   "patron1",
		StatesNotIn: []string{"ITEM_RETURNED", "CANCELLED"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": {"bool": {
			"filter": [{"term": {"patron_pid": "patron1"}}],
			"must_not": [{"terms": {"state": ["ITEM_RETURNED", "CANCELLED"]}}]
		}}
	}`, string(raw))
}

func TestBuildQueryKeepsBothStateClauses(t *testing.T) {
	raw, err := BuildQuery(circulation.Filters{
		DocumentPID: "doc1",
		StatesIn:    []string{"PENDING"},
		StatesNotIn: []string{"CANCELLED"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": {"bool": {
			"filter": [
				{"term": {"document_pid": "doc1"}},
				{"terms": {"state": ["PENDING"]}}
			],
			"must_not": [{"terms": {"state": ["CANCELLED"]}}]
		}}
	}`, string(raw))
}

func TestBuildQueryDocumentTakesPrecedence(t *testing.T) {
	item := circulation.PID{Type: "item", Value: "item1"}
	raw, err := BuildQuery(circulation.Filters{DocumentPID: "doc1", ItemPID: &item})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "document_pid")
	assert.NotContains(t, string(raw), "item_pid")
}

func TestBuildQueryRequiresAFilter(t *testing.T) {
	_, err := BuildQuery(circulation.Filters{StatesIn: []string{"PENDING"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, circulation.ErrPropertyRequired)
}

func TestBuildSearchBodyCarriesSizeAndSort(t *testing.T) {
	raw, err := buildSearchBody(circulation.Filters{DocumentPID: "doc1"}, 500, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": {"bool": {"filter": [{"term": {"document_pid": "doc1"}}]}},
		"size": 500,
		"sort": [{"pid.keyword": "asc"}]
	}`, string(raw))
}

func TestBuildSearchBodyCarriesCursor(t *testing.T) {
	raw, err := buildSearchBody(circulation.Filters{DocumentPID: "doc1"}, 500, []any{"loan42"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"search_after":["loan42"]`)
}

func TestDecodeHits(t *testing.T) {
	body := `{
		"hits": {
			"total": {"value": 2},
			"hits": [
				{"_id": "loan1", "_source": {"pid": "loan1", "state": "PENDING", "document_pid": "doc1"},
					"sort": ["loan1"]},
				{"_id": "loan2", "_source": {"pid": "loan2", "state": "ITEM_ON_LOAN",
					"item_pid": {"type": "item", "value": "item1"}}, "sort": ["loan2"]}
			]
		}
	}`
	summaries, cursor, err := decodeHits(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "loan1", summaries[0].PID)
	assert.Equal(t, "PENDING", summaries[0].State)
	require.NotNil(t, summaries[1].ItemPID)
	assert.Equal(t, "item1", summaries[1].ItemPID.Value)
	assert.Equal(t, []any{"loan2"}, cursor)
}

func TestDecodeHitsEmpty(t *testing.T) {
	summaries, cursor, err := decodeHits(strings.NewReader(`{"hits": {"hits": []}}`))
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Nil(t, cursor)
}

type searchPage struct {
	Size        int   `json:"size"`
	SearchAfter []any `json:"search_after"`
}

// The adapter must walk past the server's page cap: a pending-request
// cascade fed by a truncated result set would strand loans.
func TestSearchFetchesEveryPage(t *testing.T) {
	hit := func(i int) map[string]any {
		pid := fmt.Sprintf("loan%04d", i)
		return map[string]any{
			"_source": circulation.LoanSummary{PID: pid, State: "PENDING", DocumentPID: "doc1"},
			"sort":    []any{pid},
		}
	}

	var requests []searchPage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page searchPage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&page))
		requests = append(requests, page)

		var hits []map[string]any
		if page.SearchAfter == nil {
			for i := 0; i < searchPageSize; i++ {
				hits = append(hits, hit(i))
			}
		} else {
			for i := searchPageSize; i < searchPageSize+3; i++ {
				hits = append(hits, hit(i))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": hits},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	index := NewLoanIndex(client, "loans")

	summaries, err := index.Search(context.Background(), circulation.Filters{DocumentPID: "doc1"})
	require.NoError(t, err)
	assert.Len(t, summaries, searchPageSize+3)
	assert.Equal(t, "loan0000", summaries[0].PID)
	assert.Equal(t, fmt.Sprintf("loan%04d", searchPageSize+2), summaries[len(summaries)-1].PID)

	require.Len(t, requests, 2)
	assert.Equal(t, searchPageSize, requests[0].Size)
	assert.Nil(t, requests[0].SearchAfter)
	// The second page resumes at the cursor of the first page's last hit.
	assert.Equal(t, []any{fmt.Sprintf("loan%04d", searchPageSize-1)}, requests[1].SearchAfter)
}
