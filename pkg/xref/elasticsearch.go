package xref

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// Elasticsearch checks identifiers against the document ids of an index,
// typically the archive unit or agency index of the metadata engine.
// Documents carrying a _tenant field must match the requested tenant.
type Elasticsearch struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearch connects to addresses and checks ids against index.
func NewElasticsearch(addresses []string, index string) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("xref: create elasticsearch client: %w", err)
	}
	return NewElasticsearchWithClient(client, index), nil
}

func NewElasticsearchWithClient(client *elasticsearch.Client, index string) *Elasticsearch {
	return &Elasticsearch{client: client, index: index}
}

type mgetResponse struct {
	Docs []struct {
		ID     string         `json:"_id"`
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	} `json:"docs"`
}

func (e *Elasticsearch) Missing(ctx context.Context, tenant int, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	res, err := e.client.Mget(
		strings.NewReader(string(body)),
		e.client.Mget.WithContext(ctx),
		e.client.Mget.WithIndex(e.index),
		e.client.Mget.WithSourceIncludes("_tenant"),
	)
	if err != nil {
		return nil, fmt.Errorf("xref: mget %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("xref: mget %s: %s", e.index, res.String())
	}

	var parsed mgetResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("xref: decode mget %s: %w", e.index, err)
	}

	found := make(map[string]struct{}, len(parsed.Docs))
	for _, d := range parsed.Docs {
		if !d.Found {
			continue
		}
		if t, ok := d.Source["_tenant"].(float64); ok && int(t) != tenant {
			continue
		}
		found[d.ID] = struct{}{}
	}
	return filter(ids, func(id string) bool {
		_, ok := found[id]
		return ok
	}), nil
}
