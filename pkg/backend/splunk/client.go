// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package splunk implements backend.SearchBackend on the Splunk REST API.
package splunk

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// TimeFormat is the dispatch.time_format sent with every dispatch and the
// matching Go layout used to render the window bounds.
const (
	TimeFormat = "%Y-%m-%dT%H:%M:%S.%f%z"
	timeLayout = "2006-01-02T15:04:05.000000-0700"
)

// DefaultSessionTTL is how long a session key is reused before logging in again.
const DefaultSessionTTL = 50 * time.Minute

// Config configures the client of one Splunk instance.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Token switches to bearer authentication instead of a session login.
	Token string
	// App and Owner select the namespace saved searches are dispatched in.
	App   string
	Owner string

	VerifyTLS      bool
	RequestTimeout time.Duration
	SessionTTL     time.Duration

	// HTTPClient overrides the transport. Nil builds one from VerifyTLS.
	HTTPClient *http.Client
}

// Client talks to one Splunk instance.
type Client struct {
	cfg      Config
	http     *http.Client
	sessions *expiremap.ExpireMap[string, string]
	log      *zap.SugaredLogger
}

var _ backend.SearchBackend = (*Client)(nil)

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, backoff.Configurationf("splunk instance needs a url")
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, backoff.NewConfigurationError(fmt.Errorf("invalid splunk url %q: %w", cfg.BaseURL, err))
	}

	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, backoff.Configurationf("splunk instance %s needs a token or username and password", cfg.BaseURL)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.App == "" {
		cfg.App = "search"
	}

	if cfg.Owner == "" {
		cfg.Owner = cfg.Username
		if cfg.Owner == "" {
			cfg.Owner = "nobody"
		}
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.VerifyTLS)
	}

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		sessions: expiremap.NewEx[string, string](time.Minute, cfg.SessionTTL),
		log:      logger.For(logger.ComponentBackend).With("instance", cfg.BaseURL),
	}, nil
}

func newHTTPClient(verifyTLS bool) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !verifyTLS, //nolint:gosec
		},
	}

	return &http.Client{Transport: transport}
}

// Authenticate logs in unless bearer authentication is used or a session key
// is still valid.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.Token != "" {
		return nil
	}

	if _, ok := c.sessions.Load(c.cfg.BaseURL); ok {
		return nil
	}

	return c.login(ctx)
}

type loginResponse struct {
	SessionKey string `json:"sessionKey"`
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	form.Set("output_mode", "json")

	resp, status, err := doRequest[loginResponse](ctx, c.http, http.MethodPost, c.cfg.BaseURL+"/services/auth/login", form, nil)
	if err != nil {
		return err
	}

	if status == http.StatusNoContent || resp == nil || resp.SessionKey == "" {
		return backoff.NewAuthError(errors.New("splunk login returned no session key"))
	}

	c.sessions.Set(c.cfg.BaseURL, resp.SessionKey)
	c.log.Debugf("logged in as %s", c.cfg.Username)

	return nil
}

func (c *Client) authHeader() (string, error) {
	if c.cfg.Token != "" {
		return "Bearer " + c.cfg.Token, nil
	}

	key, ok := c.sessions.Load(c.cfg.BaseURL)
	if !ok || *key == "" {
		return "", backoff.NewAuthError(errors.New("no valid splunk session, authenticate first"))
	}

	return "Splunk " + *key, nil
}

// call performs an authenticated request. A session that was rejected is
// renewed once before the auth error is returned.
func call[R any](ctx context.Context, c *Client, method, path string, params url.Values) (*R, int, error) {
	header, err := c.authHeader()
	if err != nil {
		return nil, 0, err
	}

	resp, status, err := doRequest[R](ctx, c.http, method, c.cfg.BaseURL+path, params, map[string]string{"Authorization": header})
	if err == nil || c.cfg.Token != "" || !backoff.IsAuthError(err) {
		return resp, status, err
	}

	c.log.Infof("splunk session rejected, logging in again")

	if err := c.login(ctx); err != nil {
		return nil, 0, err
	}

	header, err = c.authHeader()
	if err != nil {
		return nil, 0, err
	}

	return doRequest[R](ctx, c.http, method, c.cfg.BaseURL+path, params, map[string]string{"Authorization": header})
}

type savedSearchList struct {
	Entry []struct {
		Name string `json:"name"`
	} `json:"entry"`
}

// ListSearchNames lists all saved searches visible to the user.
func (c *Client) ListSearchNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("output_mode", "json")
	params.Set("count", "-1")

	resp, _, err := call[savedSearchList](ctx, c, http.MethodGet, "/servicesNS/-/-/saved/searches", params)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved searches: %w", err)
	}

	if resp == nil {
		return nil, nil
	}

	names := make([]string, 0, len(resp.Entry))
	for _, e := range resp.Entry {
		names = append(names, e.Name)
	}

	return names, nil
}

type dispatchResponse struct {
	SID string `json:"sid"`
}

// DispatchParams builds the form of a dispatch request. Search parameters are
// sent as configured; the window is rendered in UTC.
func DispatchParams(search savedsearch.Definition, window savedsearch.Window) url.Values {
	params := url.Values{}
	for k, v := range search.Parameters {
		params.Set(k, v)
	}

	params.Set("output_mode", "json")
	params.Del("dispatch.latest_time")

	if window.Earliest != 0 {
		params.Set("dispatch.time_format", TimeFormat)
		params.Set("dispatch.earliest_time", FormatTime(window.Earliest))
	}

	if window.Bounded() {
		params.Set("dispatch.latest_time", FormatTime(window.Latest))
	}

	return params
}

// FormatTime renders epoch seconds in the dispatch time format.
func FormatTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(timeLayout)
}

// Dispatch starts a job of the saved search.
func (c *Client) Dispatch(ctx context.Context, search savedsearch.Definition, window savedsearch.Window) (backend.JobID, error) {
	path := fmt.Sprintf("/servicesNS/%s/%s/saved/searches/%s/dispatch",
		url.PathEscape(c.cfg.Owner), url.PathEscape(c.cfg.App), url.PathEscape(search.Name))

	resp, _, err := call[dispatchResponse](ctx, c, http.MethodPost, path, DispatchParams(search, window))
	if err != nil {
		return "", fmt.Errorf("failed to dispatch saved search %s: %w", search.Name, err)
	}

	if resp == nil || resp.SID == "" {
		return "", backoff.NewTransientError(fmt.Errorf("dispatch of saved search %s returned no sid", search.Name))
	}

	c.log.Debugf("dispatched saved search %s as %s", search.Name, resp.SID)

	return backend.JobID(resp.SID), nil
}

// Poll reads one page of job results. HTTP 204 means the job is not done.
func (c *Client) Poll(ctx context.Context, job backend.JobID, offset, count int) (backend.Page, error) {
	params := url.Values{}
	params.Set("output_mode", "json")
	params.Set("offset", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(count))

	path := "/servicesNS/-/-/search/jobs/" + url.PathEscape(string(job)) + "/results"

	resp, status, err := call[backend.Page](ctx, c, http.MethodGet, path, params)
	if err != nil {
		return backend.Page{}, fmt.Errorf("failed to poll job %s: %w", job, err)
	}

	if status == http.StatusNoContent || resp == nil {
		return backend.Page{}, backend.ErrNotReady
	}

	return *resp, nil
}

// Finalize stops the job. A 404 means it is already gone.
func (c *Client) Finalize(ctx context.Context, job backend.JobID) error {
	params := url.Values{}
	params.Set("action", "finalize")
	params.Set("output_mode", "json")

	path := "/services/search/jobs/" + url.PathEscape(string(job)) + "/control"

	_, _, err := call[struct{}](ctx, c, http.MethodPost, path, params)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		c.log.Debugf("job %s already gone", job)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", job, err)
	}

	return nil
}
