package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultChromaTenant   = "default_tenant"
	defaultChromaDatabase = "default_database"
	defaultChromaTimeout  = 30 * time.Second
	defaultCollectionTTL  = 10 * time.Minute
)

type ChromaConfig struct {
	Logger        *slog.Logger
	BaseURL       string
	Tenant        string
	Database      string
	Collection    string
	Timeout       time.Duration
	CollectionTTL time.Duration
	HTTPClient    *http.Client
}

func (c *ChromaConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("chroma base url is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("chroma collection name is required")
	}
	if c.Tenant == "" {
		c.Tenant = defaultChromaTenant
	}
	if c.Database == "" {
		c.Database = defaultChromaDatabase
	}
	if c.Timeout == 0 {
		c.Timeout = defaultChromaTimeout
	}
	if c.CollectionTTL == 0 {
		c.CollectionTTL = defaultCollectionTTL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

// Chroma queries a Chroma collection over its HTTP API. The collection id is
// resolved by name and cached.
type Chroma struct {
	log   *slog.Logger
	cfg   ChromaConfig
	cache *ttlcache.Cache[string, string]
}

func NewChroma(cfg ChromaConfig) (*Chroma, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate chroma config: %w", err)
	}
	return &Chroma{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: ttlcache.New(ttlcache.WithTTL[string, string](cfg.CollectionTTL)),
	}, nil
}

func (c *Chroma) databasePath() string {
	return fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.Tenant), url.PathEscape(c.cfg.Database))
}

func (c *Chroma) Ping(ctx context.Context) error {
	var out map[string]any
	return c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v2/heartbeat", nil, &out)
}

func (c *Chroma) collectionID(ctx context.Context) (string, error) {
	if item := c.cache.Get(c.cfg.Collection); item != nil {
		return item.Value(), nil
	}

	var coll struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	u := c.databasePath() + "/collections/" + url.PathEscape(c.cfg.Collection)
	if err := c.do(ctx, http.MethodGet, u, nil, &coll); err != nil {
		return "", fmt.Errorf("failed to get collection %q: %w", c.cfg.Collection, err)
	}
	if coll.ID == "" {
		return "", fmt.Errorf("collection %q has no id", c.cfg.Collection)
	}
	c.cache.Set(c.cfg.Collection, coll.ID, ttlcache.DefaultTTL)
	c.log.Debug("vectorindex: resolved chroma collection", "name", c.cfg.Collection, "id", coll.ID)
	return coll.ID, nil
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]*string        `json:"documents"`
	Distances [][]*float64       `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

func (c *Chroma) Query(ctx context.Context, embeddings [][]float32, nResults int) ([][]Document, error) {
	if len(embeddings) == 0 {
		return nil, nil
	}
	id, err := c.collectionID(ctx)
	if err != nil {
		return nil, err
	}

	var resp chromaQueryResponse
	u := c.databasePath() + "/collections/" + url.PathEscape(id) + "/query"
	err = c.do(ctx, http.MethodPost, u, chromaQueryRequest{
		QueryEmbeddings: embeddings,
		NResults:        nResults,
		Include:         []string{"documents", "metadatas", "distances"},
	}, &resp)
	if err != nil {
		// The collection may have been recreated under a new id.
		c.cache.Delete(c.cfg.Collection)
		return nil, fmt.Errorf("failed to query collection %q: %w", c.cfg.Collection, err)
	}

	results := make([][]Document, len(embeddings))
	for q := range embeddings {
		if q >= len(resp.IDs) {
			break
		}
		docs := make([]Document, 0, len(resp.IDs[q]))
		for i, docID := range resp.IDs[q] {
			doc := Document{ID: docID}
			if q < len(resp.Documents) && i < len(resp.Documents[q]) && resp.Documents[q][i] != nil {
				doc.Text = *resp.Documents[q][i]
			}
			if q < len(resp.Distances) && i < len(resp.Distances[q]) {
				doc.Distance = resp.Distances[q][i]
			}
			if q < len(resp.Metadatas) && i < len(resp.Metadatas[q]) {
				doc.Metadata = resp.Metadatas[q][i]
			}
			docs = append(docs, doc)
		}
		results[q] = docs
	}
	return results, nil
}

func (c *Chroma) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to chroma: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		return fmt.Errorf("chroma returned %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
