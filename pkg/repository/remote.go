package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"proMessenger/pkg/api"
	"proMessenger/pkg/middleware"
)

// Client is the thin REST client every backend call goes through. The session
// transport adds the bearer token and handles 401 answers.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func NewClient(baseURL string, session *middleware.Session) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing API base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API base url %q must be absolute", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Transport: session.Transport(nil)},
	}, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do runs req and decodes a JSON answer into out when out is not nil.
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint(req.path, req.query), req.body)
	if err != nil {
		return &api.RemoteError{Kind: api.KindRequest, Op: req.op, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Printf("No response for %s %s: %v", req.method, req.path, err)
		return &api.RemoteError{Kind: api.KindNoResponse, Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &api.RemoteError{Kind: api.KindNoResponse, Op: req.op, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		remoteErr := &api.RemoteError{
			Kind:    api.KindResponse,
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: serverMessage(payload),
		}
		if resp.StatusCode == http.StatusUnauthorized {
			remoteErr.Err = api.ErrUnauthorized
		}
		log.Printf("Server responded %d to %s %s: %s", resp.StatusCode, req.method, req.path, remoteErr.Message)
		return remoteErr
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &api.RemoteError{Kind: api.KindResponse, Op: req.op, Status: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	return c.do(ctx, request{op: op, method: http.MethodGet, path: path, query: query}, out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path, contentType string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &api.RemoteError{Kind: api.KindRequest, Op: op, Err: err}
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return c.do(ctx, request{op: op, method: method, path: path, body: bytes.NewReader(body), contentType: contentType}, out)
}

// serverMessage extracts the human readable message of an error body.
func serverMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(payload))
}

// decodeList accepts either a bare JSON array or an object wrapping the array
// under one of keys.
func decodeList(raw json.RawMessage, out interface{}, keys ...string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, out)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok {
			return decodeList(inner, out, keys...)
		}
	}
	return errors.New("no list found in response")
}

// decodeObject decodes raw into out, unwrapping it first when the object sits
// under one of keys.
func decodeObject(raw json.RawMessage, out interface{}, keys ...string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
			return json.Unmarshal(inner, out)
		}
	}
	return json.Unmarshal(raw, out)
}
