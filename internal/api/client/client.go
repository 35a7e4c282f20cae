// Package client is a read-only client for the parts of the Ticos project API
// the e2e harness observes: reboot events, reports, core dumps and
// attributes of a device.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
)

// maxErrorBody bounds how much of a failed response is kept in a StatusError.
const maxErrorBody = 4096

// RequestEditorFn is the function signature for the RequestEditor callback function
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// Doer performs HTTP requests.
//
// The standard http.Client implements this interface.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one organization/project of the Ticos API.
type Client struct {
	// The endpoint of the server conforming to this interface, with scheme,
	// https://api.ticos.com for example. This can contain a path relative
	// to the server, such as https://api.ticos.com/dev-test, and all the
	// paths in the API will be appended to the server.
	Server           string
	OrganizationSlug string
	ProjectSlug      string

	// Doer for performing requests, typically a *http.Client with any
	// customized settings, such as certificate chains.
	Client HttpRequestDoer

	// A list of callbacks for modifying requests which are generated before sending over
	// the network.
	RequestEditors []RequestEditorFn

	log logrus.FieldLogger
}

// ClientOption allows setting custom parameters during construction
type ClientOption func(*Client) error

func NewClient(server, organization, project string, opts ...ClientOption) (*Client, error) {
	client := Client{
		Server:           server,
		OrganizationSlug: organization,
		ProjectSlug:      project,
		log:              ticoslog.Discard(),
	}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(client.Server, "/") {
		client.Server += "/"
	}
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	client.log = ticoslog.WithComponent(client.log, "api-client")
	return &client, nil
}

// WithHTTPClient allows overriding the default Doer, which is
// automatically created using http.Client. This is useful for tests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn allows setting up a callback function, which will be
// called right before sending the request. This can be used to mutate the request.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

func WithLogger(log logrus.FieldLogger) ClientOption {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// BasicAuth authenticates every request with an organization token. The
// backend expects it as the password with an empty user name.
func BasicAuth(token string) RequestEditorFn {
	return func(ctx context.Context, req *http.Request) error {
		req.SetBasicAuth("", token)
		return nil
	}
}

// ListOption changes how a list call treats the response.
type ListOption func(*listOptions)

type listOptions struct {
	tolerant bool
	editors  []RequestEditorFn
}

// Tolerant makes a non-200 response yield an empty list instead of a
// *StatusError.
func Tolerant() ListOption {
	return func(o *listOptions) { o.tolerant = true }
}

// WithEditors adds request editors for a single call.
func WithEditors(fns ...RequestEditorFn) ListOption {
	return func(o *listOptions) { o.editors = append(o.editors, fns...) }
}

func (c *Client) ListRebootEvents(ctx context.Context, deviceSerial string, params *ListRebootEventsParams, opts ...ListOption) ([]RebootEvent, error) {
	req, err := NewListRebootEventsRequest(c.projectURL(), deviceSerial, params)
	if err != nil {
		return nil, err
	}
	return list[RebootEvent](ctx, c, req, opts)
}

func (c *Client) ListReports(ctx context.Context, params *ListReportsParams, opts ...ListOption) ([]Report, error) {
	req, err := NewListReportsRequest(c.projectURL(), params)
	if err != nil {
		return nil, err
	}
	return list[Report](ctx, c, req, opts)
}

func (c *Client) ListElfCoredumps(ctx context.Context, params *ListElfCoredumpsParams, opts ...ListOption) ([]ElfCoredump, error) {
	req, err := NewListElfCoredumpsRequest(c.projectURL(), params)
	if err != nil {
		return nil, err
	}
	return list[ElfCoredump](ctx, c, req, opts)
}

func (c *Client) ListAttributes(ctx context.Context, deviceSerial string, params *ListAttributesParams, opts ...ListOption) ([]Attribute, error) {
	req, err := NewListAttributesRequest(c.projectURL(), deviceSerial, params)
	if err != nil {
		return nil, err
	}
	return list[Attribute](ctx, c, req, opts)
}

// DecodeAttributes maps attribute keys to their values, skipping attributes
// without a state. Values keep their JSON type: string, bool or float64.
func DecodeAttributes(attrs []Attribute) map[string]any {
	present := lo.Filter(attrs, func(a Attribute, _ int) bool { return a.State != nil })
	return lo.SliceToMap(present, func(a Attribute) (string, any) {
		return a.CustomMetric.StringKey, a.State.Value
	})
}

func (c *Client) projectURL() string {
	return fmt.Sprintf("%sapi/v0/organizations/%s/projects/%s",
		c.Server, url.PathEscape(c.OrganizationSlug), url.PathEscape(c.ProjectSlug))
}

func list[T any](ctx context.Context, c *Client, req *http.Request, opts []ListOption) ([]T, error) {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}

	req = req.WithContext(ctx)
	if err := c.applyEditors(ctx, req, o.editors); err != nil {
		return nil, err
	}
	rsp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrorBody))
		serr := &StatusError{Method: req.Method, URL: redactURL(req.URL), StatusCode: rsp.StatusCode, Body: string(body)}
		if o.tolerant {
			c.log.Debugf("tolerating %v", serr)
			return []T{}, nil
		}
		return nil, serr
	}

	var out ListResponse[T]
	if err := json.NewDecoder(rsp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", req.Method, req.URL.Path, err)
	}
	if out.Data == nil {
		out.Data = []T{}
	}
	c.log.Debugf("%s %s: %d items", req.Method, req.URL.Path, len(out.Data))
	return out.Data, nil
}

func (c *Client) applyEditors(ctx context.Context, req *http.Request, additionalEditors []RequestEditorFn) error {
	for _, r := range c.RequestEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	for _, r := range additionalEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func redactURL(u *url.URL) string {
	cp := *u
	cp.User = nil
	return cp.String()
}

// NewListRebootEventsRequest generates requests for ListRebootEvents
func NewListRebootEventsRequest(projectURL, deviceSerial string, params *ListRebootEventsParams) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "device_serial", runtime.ParamLocationPath, deviceSerial)
	if err != nil {
		return nil, err
	}
	queryURL, err := url.Parse(fmt.Sprintf("%s/devices/%s/reboots", projectURL, pathParam0))
	if err != nil {
		return nil, err
	}
	if params != nil {
		queryValues := queryURL.Query()
		if err := addQueryParam(queryValues, "page", params.Page); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "per_page", params.PerPage); err != nil {
			return nil, err
		}
		queryURL.RawQuery = queryValues.Encode()
	}
	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

// NewListReportsRequest generates requests for ListReports
func NewListReportsRequest(projectURL string, params *ListReportsParams) (*http.Request, error) {
	queryURL, err := url.Parse(projectURL + "/reports")
	if err != nil {
		return nil, err
	}
	if params != nil {
		queryValues := queryURL.Query()
		if err := addQueryParam(queryValues, "device_serial", params.DeviceSerial); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "page", params.Page); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "per_page", params.PerPage); err != nil {
			return nil, err
		}
		queryURL.RawQuery = queryValues.Encode()
	}
	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

// NewListElfCoredumpsRequest generates requests for ListElfCoredumps
func NewListElfCoredumpsRequest(projectURL string, params *ListElfCoredumpsParams) (*http.Request, error) {
	queryURL, err := url.Parse(projectURL + "/elf_coredumps")
	if err != nil {
		return nil, err
	}
	if params != nil {
		queryValues := queryURL.Query()
		if err := addQueryParam(queryValues, "device", params.Device); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "page", params.Page); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "per_page", params.PerPage); err != nil {
			return nil, err
		}
		queryURL.RawQuery = queryValues.Encode()
	}
	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

// NewListAttributesRequest generates requests for ListAttributes
func NewListAttributesRequest(projectURL, deviceSerial string, params *ListAttributesParams) (*http.Request, error) {
	pathParam0, err := runtime.StyleParamWithLocation("simple", false, "device_serial", runtime.ParamLocationPath, deviceSerial)
	if err != nil {
		return nil, err
	}
	queryURL, err := url.Parse(fmt.Sprintf("%s/devices/%s/attributes", projectURL, pathParam0))
	if err != nil {
		return nil, err
	}
	if params != nil {
		queryValues := queryURL.Query()
		if err := addQueryParam(queryValues, "page", params.Page); err != nil {
			return nil, err
		}
		if err := addQueryParam(queryValues, "per_page", params.PerPage); err != nil {
			return nil, err
		}
		queryURL.RawQuery = queryValues.Encode()
	}
	return http.NewRequest(http.MethodGet, queryURL.String(), nil)
}

func addQueryParam[T any](queryValues url.Values, name string, value *T) error {
	if value == nil {
		return nil
	}
	queryFrag, err := runtime.StyleParamWithLocation("form", true, name, runtime.ParamLocationQuery, *value)
	if err != nil {
		return err
	}
	parsed, err := url.ParseQuery(queryFrag)
	if err != nil {
		return err
	}
	for k, v := range parsed {
		for _, v2 := range v {
			queryValues.Add(k, v2)
		}
	}
	return nil
}
