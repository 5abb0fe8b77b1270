package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxD1ResponseBytes = 10 << 20

// D1Config identifies a Cloudflare D1 database reachable over the REST query API.
type D1Config struct {
	BaseURL    string
	AccountID  string
	DatabaseID string
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// D1Client forwards parameterized SQL to the D1 query endpoint. D1 runs each request
// as a single statement; it does not implement Transactor.
type D1Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
}

type d1Request struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type d1Message struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type d1Response struct {
	Result []struct {
		Results json.RawMessage `json:"results"`
		Success bool            `json:"success"`
		Meta    struct {
			Changes int64 `json:"changes"`
		} `json:"meta"`
	} `json:"result"`
	Success bool        `json:"success"`
	Errors  []d1Message `json:"errors"`
}

// NewD1Client validates cfg and builds a client.
func NewD1Client(cfg D1Config) (*D1Client, error) {
	if cfg.AccountID == "" || cfg.DatabaseID == "" || cfg.APIToken == "" {
		return nil, errors.New("invalid D1 configuration: account id, database id and api token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloudflare.com/client/v4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &D1Client{
		endpoint: fmt.Sprintf("%s/accounts/%s/d1/database/%s/query", strings.TrimRight(cfg.BaseURL, "/"), cfg.AccountID, cfg.DatabaseID),
		token:    cfg.APIToken,
		timeout:  cfg.Timeout,
		http:     httpClient,
	}, nil
}

func (c *D1Client) Query(ctx context.Context, dst any, query string, args ...any) error {
	resp, err := c.do(ctx, query, args)
	if err != nil {
		return err
	}
	results := resp.Result[0].Results
	if len(results) == 0 || string(results) == "null" {
		results = json.RawMessage("[]")
	}
	if err := json.Unmarshal(results, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	return nil
}

func (c *D1Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	resp, err := c.do(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return resp.Result[0].Meta.Changes, nil
}

// Ping checks that the database answers.
func (c *D1Client) Ping(ctx context.Context) error {
	var rows []map[string]any
	return c.Query(ctx, &rows, "SELECT 1 AS ok")
}

func (c *D1Client) do(ctx context.Context, query string, args []any) (*d1Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(d1Request{SQL: query, Params: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode d1 request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build d1 request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, classify("d1", 0, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxD1ResponseBytes))
	if err != nil {
		return nil, classify("d1", httpResp.StatusCode, err)
	}

	var resp d1Response
	decodeErr := json.Unmarshal(raw, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 || !resp.Success {
		msg := httpResp.Status
		if decodeErr == nil && len(resp.Errors) > 0 {
			msg = resp.Errors[0].Message
		}
		return nil, classify("d1", httpResp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResult, decodeErr)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result set", ErrMalformedResult)
	}
	return &resp, nil
}
