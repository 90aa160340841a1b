// Package remote implements [backend.Client] over the readaloud HTTP API.
//
// Every request is a JSON POST (or GET) against the server base URL:
//
//	GET  /api/tts/voices                                  voice catalogue
//	POST /api/tts {text, voice}                           full audio
//	POST /api/tts {text, voice, get_chunks_info: true}    chunk plan
//	POST /api/tts {text, voice, chunk_index: n}           chunk audio + X-* headers
//	GET  /api/tts/test                                    diagnostic tone
//	POST /api/exports?voice=&chunks=                      save an artifact
//
// Non-success responses are returned as [*backend.FetchError] carrying the
// server's {"error": "..."} message.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// Response headers carrying out-of-band chunk metadata.
const (
	HeaderTotalChunks = "X-Total-Chunks"
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderChunkText   = "X-Chunk-Text"
)

const (
	defaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Compile-time interface assertion.
var _ backend.Client = (*Client)(nil)

// Option is a functional option for [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = &http.Client{Timeout: d}
	}
}

// WithPropagator sets the propagator that writes trace context into request
// headers. Default: the global OTel propagator at request time.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.prop = p
	}
}

// Client is an HTTP [backend.Client].
type Client struct {
	base string
	http *http.Client
	prop propagation.TextMapPropagator
}

// New creates a Client for the server at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ttsRequest is the body of POST /api/tts.
type ttsRequest struct {
	Text          string `json:"text"`
	Voice         string `json:"voice,omitempty"`
	GetChunksInfo bool   `json:"get_chunks_info,omitempty"`
	ChunkIndex    *int   `json:"chunk_index,omitempty"`
}

// ListVoices implements [backend.Client].
func (c *Client) ListVoices(ctx context.Context) ([]backend.Voice, error) {
	const op = "list voices"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/tts/voices", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Voices []backend.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &backend.FetchError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return body.Voices, nil
}

// Synthesize implements [backend.Client].
func (c *Client) Synthesize(ctx context.Context, text, voice string) (backend.Audio, error) {
	const op = "synthesize"
	resp, err := c.postJSON(ctx, op, ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return backend.Audio{}, err
	}
	defer resp.Body.Close()
	return readAudio(op, resp)
}

// ChunksInfo implements [backend.Client].
func (c *Client) ChunksInfo(ctx context.Context, text, voice string) (backend.ChunksInfo, error) {
	const op = "chunks info"
	resp, err := c.postJSON(ctx, op, ttsRequest{Text: text, Voice: voice, GetChunksInfo: true})
	if err != nil {
		return backend.ChunksInfo{}, err
	}
	defer resp.Body.Close()

	var info backend.ChunksInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return backend.ChunksInfo{}, &backend.FetchError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	if info.TotalChunks < 1 {
		return backend.ChunksInfo{}, &backend.FetchError{Op: op, Message: "server returned no chunks"}
	}
	return info, nil
}

// SynthesizeChunk implements [backend.Client]. The chunk's total count and
// source text are read from the X-Total-Chunks and X-Chunk-Text headers.
func (c *Client) SynthesizeChunk(ctx context.Context, text, voice string, index int) (backend.Chunk, error) {
	const op = "synthesize chunk"
	resp, err := c.postJSON(ctx, op, ttsRequest{Text: text, Voice: voice, ChunkIndex: &index})
	if err != nil {
		return backend.Chunk{}, err
	}
	defer resp.Body.Close()

	a, err := readAudio(op, resp)
	if err != nil {
		return backend.Chunk{}, err
	}
	ch := backend.Chunk{Audio: a, Index: index}
	if v := resp.Header.Get(HeaderTotalChunks); v != "" {
		if ch.Total, err = strconv.Atoi(v); err != nil {
			return backend.Chunk{}, &backend.FetchError{Op: op, Err: fmt.Errorf("bad %s header %q", HeaderTotalChunks, v)}
		}
	}
	if v := resp.Header.Get(HeaderChunkIndex); v != "" {
		if got, err := strconv.Atoi(v); err == nil && got != index {
			return backend.Chunk{}, &backend.FetchError{Op: op, Err: fmt.Errorf("server returned chunk %d, want %d", got, index)}
		}
	}
	if v := resp.Header.Get(HeaderChunkText); v != "" {
		if ch.Text, err = url.PathUnescape(v); err != nil {
			ch.Text = v
		}
	}
	return ch, nil
}

// TestAudio implements [backend.Client].
func (c *Client) TestAudio(ctx context.Context) (backend.Audio, error) {
	const op = "test audio"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/tts/test", "", nil)
	if err != nil {
		return backend.Audio{}, err
	}
	defer resp.Body.Close()
	return readAudio(op, resp)
}

// ExportInfo is the server's description of a saved artifact.
type ExportInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// UploadExport stores an assembled artifact on the server.
func (c *Client) UploadExport(ctx context.Context, a backend.Audio, voice string, chunks int) (ExportInfo, error) {
	const op = "upload export"
	q := url.Values{}
	q.Set("voice", voice)
	q.Set("chunks", strconv.Itoa(chunks))
	ct := a.ContentType
	if ct == "" {
		ct = a.Container().ContentType()
	}
	resp, err := c.do(ctx, op, http.MethodPost, "/api/exports?"+q.Encode(), ct, bytes.NewReader(a.Data))
	if err != nil {
		return ExportInfo{}, err
	}
	defer resp.Body.Close()

	var info ExportInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ExportInfo{}, &backend.FetchError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return info, nil
}

// ---- helpers ----

func (c *Client) postJSON(ctx context.Context, op string, body ttsRequest) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: marshal: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, "/api/tts", "application/json", bytes.NewReader(buf))
}

// do sends a request and returns the response when its status is 2xx. Any
// other outcome is a [*backend.FetchError]; the body is closed in that case.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, &backend.FetchError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	prop := c.prop
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &backend.FetchError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	fe := &backend.FetchError{Op: op, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		fe.Message = eb.Error
	} else {
		fe.Message = strings.TrimSpace(string(raw))
	}
	return nil, fe
}

func readAudio(op string, resp *http.Response) (backend.Audio, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Audio{}, &backend.FetchError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	a := backend.Audio{Data: data, ContentType: resp.Header.Get("Content-Type")}
	if err := backend.CheckAudio(op, a); err != nil {
		return backend.Audio{}, err
	}
	return a, nil
}
