package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// TransformConfig holds transform endpoint settings
type TransformConfig struct {
	// Timeout for each transform request
	Timeout time.Duration

	// BearerToken is sent as the Authorization header when set
	BearerToken string
}

// DefaultTransformConfig returns sensible defaults
func DefaultTransformConfig() TransformConfig {
	return TransformConfig{Timeout: 10 * time.Second}
}

// Transformer posts each record to a user-supplied HTTP function and
// indexes what it returns. The exchange follows the callable function
// convention: {"data": record} in, {"result": record} out.
type Transformer struct {
	url        string
	token      string
	httpClient *http.Client
}

// Verify interface compliance
var _ Processor = (*Transformer)(nil)

// NewTransformer creates a transformer for the endpoint.
func NewTransformer(url string, cfg TransformConfig) *Transformer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTransformConfig().Timeout
	}
	return &Transformer{
		url:   url,
		token: cfg.BearerToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type transformRequest struct {
	Data domain.IndexRecord `json:"data"`
}

type transformResponse struct {
	Result domain.IndexRecord `json:"result"`
}

func (t *Transformer) Process(ctx context.Context, record domain.IndexRecord) (domain.IndexRecord, error) {
	body, err := json.Marshal(transformRequest{Data: record})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transform failed: %s - %s", resp.Status, string(respBody))
	}

	var out transformResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transform response: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("transform returned no result")
	}
	return out.Result, nil
}

func (t *Transformer) Name() string { return "transformer" }

// Order returns 10 - transform sees normalized values.
func (t *Transformer) Order() int { return 10 }
