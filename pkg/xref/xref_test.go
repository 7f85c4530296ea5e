package xref

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

func TestStatic_Missing(t *testing.T) {
	s := NewStatic(map[int][]string{1: {"AG1", "AG2"}, 2: {"AG9"}})

	missing, err := s.Missing(context.Background(), 1, []string{"AG1", "AG3", "AG3", "AG9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AG3", "AG9"}, missing)

	missing, err = s.Missing(context.Background(), 7, []string{"AG1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AG1"}, missing)

	assert.Equal(t, []int{1, 2}, s.Tenants())
}

type fakeLookup struct {
	docs []contracts.Document
	err  error
	seen []string
}

func (f *fakeLookup) FindByIdentifiers(_ context.Context, _ int, _ contracts.Collection, ids []string) ([]contracts.Document, error) {
	f.seen = ids
	return f.docs, f.err
}

func TestContractIndex_Missing(t *testing.T) {
	lookup := &fakeLookup{docs: []contracts.Document{{"Identifier": "MC-000001"}}}
	idx := NewContractIndex(lookup, contracts.ManagementContracts)

	missing, err := idx.Missing(context.Background(), 1, []string{"MC-000001", "MC-000404"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MC-000404"}, missing)

	missing, err = idx.Missing(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestContractIndex_PropagatesStoreError(t *testing.T) {
	idx := NewContractIndex(&fakeLookup{err: errors.New("down")}, contracts.ManagementContracts)
	_, err := idx.Missing(context.Background(), 1, []string{"MC-000001"})
	assert.ErrorContains(t, err, "down")
}

func TestCheckerFunc(t *testing.T) {
	var c Checker = CheckerFunc(func(_ context.Context, _ int, ids []string) ([]string, error) {
		return ids[:1], nil
	})
	missing, err := c.Missing(context.Background(), 0, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, missing)
}

func TestElasticsearch_Missing(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"docs":[
			{"_id":"U1","found":true,"_source":{"_tenant":1}},
			{"_id":"U2","found":false},
			{"_id":"U3","found":true,"_source":{"_tenant":2}}
		]}`)
	}))
	defer srv.Close()

	es, err := NewElasticsearch([]string{srv.URL}, "unit")
	require.NoError(t, err)

	missing, err := es.Missing(context.Background(), 1, []string{"U1", "U2", "U3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"U2", "U3"}, missing)
	assert.Equal(t, "/unit/_mget", gotPath)
	assert.JSONEq(t, `{"ids":["U1","U2","U3"]}`, gotBody)
}

func TestElasticsearch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"index_not_found_exception"}`)
	}))
	defer srv.Close()

	es, err := NewElasticsearch([]string{srv.URL}, "unit")
	require.NoError(t, err)

	_, err = es.Missing(context.Background(), 1, []string{"U1"})
	assert.Error(t, err)
}
