package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/errors"
)

// RestClient talks to an Orthanc-compatible archive over its REST API.
type RestClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   zerolog.Logger
}

// RestOptions configures a RestClient.
type RestOptions struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// NewRest creates a REST client for the archive.
func NewRest(opts RestOptions, logger zerolog.Logger) *RestClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RestClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *RestClient) Study(ctx context.Context, id string) (*Study, error) {
	var study Study
	if err := c.getJSON(ctx, "/studies/"+url.PathEscape(id), &study); err != nil {
		return nil, err
	}
	return &study, nil
}

func (c *RestClient) Series(ctx context.Context, id string) (*Series, error) {
	var series Series
	if err := c.getJSON(ctx, "/series/"+url.PathEscape(id), &series); err != nil {
		return nil, err
	}
	return &series, nil
}

func (c *RestClient) SeriesInstances(ctx context.Context, seriesID string) ([]Instance, error) {
	var instances []Instance
	if err := c.getJSON(ctx, "/series/"+url.PathEscape(seriesID)+"/instances", &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (c *RestClient) InstanceFile(ctx context.Context, id string) ([]byte, error) {
	return c.getBytes(ctx, "/instances/"+url.PathEscape(id)+"/file")
}

func (c *RestClient) Store(ctx context.Context, modality string, req StoreRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to encode store request")
	}
	path := "/modalities/" + url.PathEscape(modality) + "/store"
	if _, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body)); err != nil {
		return errors.Wrapf(err, errors.ErrForwardSend,
			"store to modality %s failed", modality)
	}
	return nil
}

func (c *RestClient) Changes(ctx context.Context, since int64, limit int) (*ChangeBatch, error) {
	path := fmt.Sprintf("/changes?since=%d&limit=%d", since, limit)
	var batch ChangeBatch
	if err := c.getJSON(ctx, path, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (c *RestClient) getJSON(ctx context.Context, path string, v interface{}) error {
	data, err := c.getBytes(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, errors.ErrArchiveDecode,
			"failed to decode archive response for %s", path)
	}
	return nil
}

func (c *RestClient) getBytes(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *RestClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "failed to build request for %s", path)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Trace().Str("method", method).Str("path", path).Msg("Archive request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrArchiveRequest, "%s %s failed", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrArchiveRequest,
			"failed to read archive response for %s", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf(errors.ErrArchiveStatus,
			"%s %s returned %d", method, path, resp.StatusCode).
			WithDetail("body", strings.TrimSpace(string(data)))
	}

	return data, nil
}
