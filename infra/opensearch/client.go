package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/emreis/sanalpos/infra/config"
)

// Client wraps the OpenSearch client used to ship structured log documents
type Client struct {
	client *opensearchgo.Client
}

// NewClient creates an OpenSearch client from the application configuration
func NewClient(cfg *config.AppConfig) (*Client, error) {
	osConfig := opensearchgo.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Username:  cfg.OpenSearchUser,
		Password:  cfg.OpenSearchPass,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	client, err := opensearchgo.NewClient(osConfig)
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	return &Client{client: client}, nil
}

// Index writes document into the given index
func (c *Client) Index(ctx context.Context, index string, document any) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshal log document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("index log document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch rejected document: %s", res.Status())
	}
	return nil
}
