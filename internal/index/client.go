package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/klask-io/klask-core/internal/model"
)

// ESClient is the Elasticsearch-backed IndexWriter. It is the production
// implementation the crawler service wires into the supervisor; tests use a
// fake IndexWriter instead of standing up a cluster.
type ESClient struct {
	es *elasticsearch.Client
}

// NewESClient builds an ESClient against the given node addresses.
func NewESClient(addresses []string) (*ESClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &ESClient{es: es}, nil
}

var indexMapping = `{
  "mappings": {
    "properties": {
      "name":      {"type": "keyword"},
      "extension": {"type": "keyword"},
      "path":      {"type": "keyword"},
      "project":   {"type": "keyword"},
      "version":   {"type": "keyword"},
      "content":   {"type": "text"},
      "size":      {"type": "long"},
      "lastAuthor": {"type": "keyword"},
      "lastDate":   {"type": "keyword"}
    }
  }
}`

// EnsureIndex implements IndexWriter.
func (c *ESClient) EnsureIndex(ctx context.Context, name string, recreate bool) error {
	exists, err := c.indexExists(ctx, name)
	if err != nil {
		return err
	}

	if exists {
		if !recreate {
			return nil
		}
		if err := c.DeleteIndex(ctx, name); err != nil {
			return err
		}
	}

	req := esapi.IndicesCreateRequest{
		Index: name,
		Body:  strings.NewReader(indexMapping),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return classifyTransportErr("create index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", name, res.String())
	}
	return nil
}

func (c *ESClient) indexExists(ctx context.Context, name string) (bool, error) {
	req := esapi.IndicesExistsRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return false, classifyTransportErr("check index exists", err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// DeleteIndex implements IndexWriter.
func (c *ESClient) DeleteIndex(ctx context.Context, name string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{name}}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return classifyTransportErr("delete index", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete index %s: %s", name, res.String())
	}
	return nil
}

// bulkActionMeta is the per-document action line in the NDJSON bulk body.
type bulkActionMeta struct {
	Index *bulkIndexMeta `json:"index,omitempty"`
	Del   *bulkIndexMeta `json:"delete,omitempty"`
}

type bulkIndexMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// BulkUpsert implements IndexWriter using the Elasticsearch bulk API: one
// NDJSON action+source pair per document, indexed by FileRecord.ID.
func (c *ESClient) BulkUpsert(ctx context.Context, name string, docs []model.FileRecord) (BulkResult, error) {
	if len(docs) == 0 {
		return BulkResult{}, nil
	}

	var body bytes.Buffer
	for _, doc := range docs {
		meta := bulkActionMeta{Index: &bulkIndexMeta{Index: name, ID: doc.ID}}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return BulkResult{}, fmt.Errorf("marshal bulk action for %s: %w", doc.ID, err)
		}
		srcLine, err := json.Marshal(doc)
		if err != nil {
			return BulkResult{}, fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		body.Write(metaLine)
		body.WriteByte('\n')
		body.Write(srcLine)
		body.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body: &body,
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return BulkResult{}, classifyTransportErr("bulk upsert", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return BulkResult{}, fmt.Errorf("bulk upsert to %s: %s", name, res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return BulkResult{}, fmt.Errorf("decode bulk response: %w", err)
	}

	result := BulkResult{}
	for _, item := range parsed.Items {
		action := item.Index
		if action.Status >= 200 && action.Status < 300 {
			result.Indexed++
		} else {
			result.FailedIDs = append(result.FailedIDs, action.ID)
		}
	}
	return result, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
		} `json:"index"`
	} `json:"items"`
}

// Delete implements IndexWriter.
func (c *ESClient) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, id := range ids {
		meta := bulkActionMeta{Del: &bulkIndexMeta{Index: name, ID: id}}
		line, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal delete action for %s: %w", id, err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	req := esapi.BulkRequest{Body: &body}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return classifyTransportErr("bulk delete", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk delete from %s: %s", name, res.String())
	}
	return nil
}

// classifyTransportErr wraps a transport-level error (connection refused,
// timeout, DNS failure) so callers upstream can recognize it as a retriable
// "backend unavailable" condition rather than a malformed-request error.
func classifyTransportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err)
}
