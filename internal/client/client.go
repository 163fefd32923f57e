// Package client calls the quill API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"quill/api/internal/catalog"
	"quill/api/internal/chapter"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func New(funcs ...OptionFunc) *Client {
	opts := NewOptions(funcs...)
	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
	}
}

// Error is a non-2xx API response.
type Error struct {
	Status     int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type chapterCall struct {
	Name   string     `json:"name"`
	Method string     `json:"method"`
	Params chapter.Op `json:"params"`
}

type stringResult struct {
	Result string `json:"result"`
}

// Chapter runs op on the chapter name and decodes the reply into result.
func (c *Client) Chapter(ctx context.Context, name string, op chapter.Op, result any) error {
	return c.jsonRequest(ctx, http.MethodPost, "/rpc/chapter", chapterCall{Name: name, Method: op.Method(), Params: op}, result)
}

func (c *Client) chapterString(ctx context.Context, name string, op chapter.Op) (string, error) {
	var res stringResult
	if err := c.Chapter(ctx, name, op, &res); err != nil {
		return "", err
	}
	return res.Result, nil
}

func (c *Client) Meta(ctx context.Context, name string) (chapter.Meta, error) {
	var meta chapter.Meta
	err := c.Chapter(ctx, name, chapter.MetaParams{}, &meta)
	return meta, err
}

func (c *Client) Text(ctx context.Context, name string, version *int) (string, error) {
	return c.chapterString(ctx, name, chapter.TextParams{VersionParams: chapter.VersionParams{Version: version}})
}

func (c *Client) HTML(ctx context.Context, name string, version *int) (string, error) {
	return c.chapterString(ctx, name, chapter.HTMLParams{VersionParams: chapter.VersionParams{Version: version}})
}

func (c *Client) Serialize(ctx context.Context, name string) (string, error) {
	return c.chapterString(ctx, name, chapter.SerializeParams{})
}

func (c *Client) Restore(ctx context.Context, name, data string) (chapter.Meta, error) {
	var meta chapter.Meta
	err := c.Chapter(ctx, name, chapter.RestoreParams{Data: data}, &meta)
	return meta, err
}

func (c *Client) StoryChapters(ctx context.Context, storyTitle string) ([]catalog.Entry, error) {
	var res struct {
		Chapters []catalog.Entry `json:"chapters"`
	}
	path := "/api/stories/" + url.PathEscape(storyTitle) + "/chapters"
	if err := c.jsonRequest(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Chapters, nil
}

func (c *Client) request(ctx context.Context, method, path string, body any, result io.Writer) error {
	target := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.WithStack(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Status: res.StatusCode}
		if err := json.NewDecoder(res.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = res.Status
		}
		return apiErr
	}

	if _, err := io.Copy(result, res.Body); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any, result any) error {
	var buff bytes.Buffer
	if err := c.request(ctx, method, path, body, &buff); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(buff.Bytes(), result); err != nil {
		return errors.Wrap(err, "could not decode response")
	}
	return nil
}
