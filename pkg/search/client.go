package search

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"convod/pkg/logger"
)

// Client talks to an Elasticsearch-compatible endpoint. A nil or
// disabled client turns every call into a logged no-op so callers never
// branch on whether search is configured.
type Client struct {
	endpoint string
	prefix   string
	timeout  time.Duration
	http     *fasthttp.Client
}

// NewClient builds a search client. An empty endpoint yields a disabled
// client.
func NewClient(endpoint, indexPrefix string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		prefix:   indexPrefix,
		timeout:  timeout,
		http:     &fasthttp.Client{},
	}
}

func (c *Client) enabled() bool { return c != nil && c.endpoint != "" }

func (c *Client) indexName(index string) string {
	if c.prefix == "" {
		return index
	}
	return c.prefix + "-" + index
}

func (c *Client) do(method, path string, body []byte) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return nil, 0, err
	}
	out := append([]byte(nil), resp.Body()...)
	return out, resp.StatusCode(), nil
}

// Index writes or replaces one document.
func (c *Client) Index(index, id string, doc any) error {
	if !c.enabled() {
		logger.Debug("search_disabled", "op", "index", "index", index, "id", id)
		return nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/%s/_doc/%s", c.indexName(index), url.PathEscape(id))
	_, status, err := c.do(fasthttp.MethodPut, path, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("search index %s/%s: status %d", index, id, status)
	}
	return nil
}

// Delete removes one document. Missing documents are not an error.
func (c *Client) Delete(index, id string) error {
	if !c.enabled() {
		return nil
	}
	path := fmt.Sprintf("/%s/_doc/%s", c.indexName(index), url.PathEscape(id))
	_, status, err := c.do(fasthttp.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != fasthttp.StatusNotFound {
		return fmt.Errorf("search delete %s/%s: status %d", index, id, status)
	}
	return nil
}

// Hit is one search result row.
type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Search runs a raw query body against an index and returns hits plus
// the total match count.
func (c *Client) Search(index string, query any) ([]Hit, int, error) {
	if !c.enabled() {
		return nil, 0, nil
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, 0, err
	}
	out, status, err := c.do(fasthttp.MethodPost, "/"+c.indexName(index)+"/_search", body)
	if err != nil {
		return nil, 0, err
	}
	if status >= 300 {
		return nil, 0, fmt.Errorf("search query %s: status %d", index, status)
	}
	var sr searchResponse
	if err := json.Unmarshal(out, &sr); err != nil {
		return nil, 0, err
	}
	return sr.Hits.Hits, sr.Hits.Total.Value, nil
}
