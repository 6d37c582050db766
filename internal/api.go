package trailercast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Pacer spaces outgoing requests. *ratelimiter.Pacer satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Request describes one call to a platform API.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	// Body is sent as-is. ContentType must be set alongside it.
	Body        []byte
	ContentType string
	// Token is sent as a Bearer authorization header when non-empty.
	Token string
}

// Response is a fully read API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ErrorParser turns a non-2xx response into a platform specific error.
type ErrorParser func(resp *Response) error

// Caller executes API requests for one platform.
type Caller struct {
	Platform Platform
	HTTP     *http.Client
	Pacer    Pacer
	Logger   *log.Logger
	// Debug logs every response body.
	Debug bool
	// ParseError maps error responses. When nil a generic *APIError is returned.
	ParseError ErrorParser
}

// Raw executes req and returns the response. Non-2xx responses are returned as errors.
func (c *Caller) Raw(ctx context.Context, req Request) (*Response, error) {
	if c.Pacer != nil {
		if err := c.Pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", c.Platform, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request to %s failed: %w", c.Platform, httpReq.URL.Path, err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil && c.Logger != nil {
			c.Logger.Printf("error closing response body: %v", err)
		}
	}()
	buffer, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.Platform, err)
	}
	if c.Debug && c.Logger != nil {
		c.Logger.Printf("[%s] %s %s -> %d %s", c.Platform, req.Method, httpReq.URL.Path, httpResp.StatusCode, string(buffer))
	}

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: buffer}
	if resp.Status < 200 || resp.Status > 299 {
		if c.ParseError != nil {
			return nil, c.ParseError(resp)
		}
		return nil, &APIError{Platform: c.Platform, Status: resp.Status, Message: strings.TrimSpace(string(buffer))}
	}
	return resp, nil
}

// RawParsed executes req and decodes the JSON body into T.
func RawParsed[T any](ctx context.Context, c *Caller, req Request) (*T, error) {
	resp, err := c.Raw(ctx, req)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if len(resp.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", c.Platform, err)
	}
	return out, nil
}

// FormRequest builds a url-encoded form request.
func FormRequest(method, endpoint string, form url.Values, token string) Request {
	return Request{
		Method:      method,
		URL:         endpoint,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Token:       token,
	}
}

// JSONRequest builds a request with v encoded as the JSON body.
func JSONRequest(method, endpoint string, v any, token string) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode request body: %w", err)
	}
	return Request{
		Method:      method,
		URL:         endpoint,
		Body:        body,
		ContentType: "application/json; charset=UTF-8",
		Token:       token,
	}, nil
}

// MultipartRequest builds a multipart/form-data POST with plain fields and one file part.
func MultipartRequest(endpoint string, fields map[string]string, fileField, filename string, data []byte, token string) (Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Request{}, fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		if err != nil {
			return Request{}, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return Request{}, fmt.Errorf("failed to write form file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return Request{}, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return Request{
		Method:      http.MethodPost,
		URL:         endpoint,
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
		Token:       token,
	}, nil
}
