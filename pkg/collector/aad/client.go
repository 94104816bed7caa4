/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package aad enumerates Azure Active Directory objects through Microsoft
// Graph. Directory walks can outlive a bearer token, so every request goes
// through a token gate that pauses the walk across rotations.
package aad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/Azure/stormspotter/pkg/auth/tokengate"
	"github.com/Azure/stormspotter/pkg/logging"
)

const (
	apiVersion = "v1.0"
	// getByIDs accepts at most this many ids per request.
	maxIDsPerBatch = 1000
)

// Client is a minimal Microsoft Graph REST client. The SDK clients are not
// used here because enumeration needs raw records (every attribute the
// directory returns, not a typed projection) and gate-controlled pausing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	gate       *tokengate.Gate
	log        logr.Logger
}

// NewClient builds a client for the given Microsoft Graph endpoint. The
// gate must be fed by a credential with directory read access.
func NewClient(ctx context.Context, httpClient *http.Client, endpoint string, gate *tokengate.Gate) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(endpoint, "/"),
		gate:       gate,
		log:        logr.FromContextOrDiscard(ctx).WithName("msgraph").WithValues(logging.Endpoint, endpoint),
	}
}

// GraphError is an odata error returned by the service.
type GraphError struct {
	Code    string
	Message string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph request failed: %s: %s", e.Code, e.Message)
}

// List walks a collection URL page by page, invoking fn for every returned
// object. Pagination follows @odata.nextLink until the service stops
// handing one back.
func (c *Client) List(ctx context.Context, url string, fn func(map[string]any) error) error {
	for url != "" {
		page, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for _, raw := range page.Value {
			record, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if err := fn(record); err != nil {
				return err
			}
		}
		url = page.NextLink
		if url != "" {
			c.log.V(1).Info("following next link")
		}
	}
	return nil
}

// ListResource lists a directory resource collection ("users", "groups")
// with optional query parameters.
func (c *Client) ListResource(ctx context.Context, resource, query string, fn func(map[string]any) error) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, resource)
	if query != "" {
		url += "?" + query
	}
	return c.List(ctx, url, fn)
}

// Expand fetches a navigation property of one object ("members", "owners")
// and returns the ids of the referenced objects.
func (c *Client) Expand(ctx context.Context, resource, id, prop string) ([]string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.baseURL, apiVersion, resource, id, prop)
	var ids []string
	err := c.List(ctx, url, func(record map[string]any) error {
		if objectID := objectID(record); objectID != "" {
			ids = append(ids, objectID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetByIDs resolves arbitrary directory object ids in batches, invoking fn
// for every object found. Unknown ids are silently absent from the result,
// matching the service behavior.
func (c *Client) GetByIDs(ctx context.Context, ids []string, fn func(map[string]any) error) error {
	url := fmt.Sprintf("%s/%s/directoryObjects/getByIds", c.baseURL, apiVersion)
	for _, batch := range lo.Chunk(ids, maxIDsPerBatch) {
		body, err := json.Marshal(map[string]any{"ids": batch, "types": []string{}})
		if err != nil {
			return err
		}
		page, err := c.do(ctx, http.MethodPost, url, body)
		if err != nil {
			return err
		}
		for _, raw := range page.Value {
			record, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if err := fn(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// Probe issues a single beta users request to establish whether the
// credential can read the directory at all.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/beta/users?$top=1", nil)
	return err
}

type page struct {
	Value    []any
	NextLink string
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*page, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.gate.Token())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding graph response (%d): %w", resp.StatusCode, err)
	}
	if graphErr := odataError(decoded); graphErr != nil {
		return nil, graphErr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &GraphError{Code: http.StatusText(resp.StatusCode), Message: string(payload)}
	}

	p := &page{}
	if v, ok := decoded["value"].([]any); ok {
		p.Value = v
	} else if len(decoded) > 0 {
		// Single-object responses come back without a value wrapper.
		p.Value = []any{decoded}
	}
	for _, key := range []string{"@odata.nextLink", "odata.nextLink"} {
		if link, ok := decoded[key].(string); ok {
			p.NextLink = link
			break
		}
	}
	return p, nil
}

// odataError extracts either error shape the directory endpoints return.
func odataError(decoded map[string]any) *GraphError {
	for _, key := range []string{"@odata.error", "odata.error", "error"} {
		raw, ok := decoded[key].(map[string]any)
		if !ok {
			continue
		}
		graphErr := &GraphError{}
		graphErr.Code, _ = raw["code"].(string)
		switch msg := raw["message"].(type) {
		case string:
			graphErr.Message = msg
		case map[string]any:
			graphErr.Message, _ = msg["value"].(string)
		}
		return graphErr
	}
	return nil
}

// objectID prefers the legacy objectId attribute over id.
func objectID(record map[string]any) string {
	if v, ok := record["objectId"].(string); ok && v != "" {
		return v
	}
	v, _ := record["id"].(string)
	return v
}
