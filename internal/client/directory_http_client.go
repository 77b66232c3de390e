package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DirectoryHTTPClient talks to the HR backend's REST API.
//
// Endpoints:
//
//	GET {base}/api/v1/departments/{id}/head
//	GET {base}/api/v1/sub-departments/{id}/head
//	GET {base}/api/v1/employees/{id}
//	GET {base}/api/v1/roles/{code}/holder?department_id=
//
// Head and holder endpoints answer {"employee_id": "..."}; 404 means none.
type DirectoryHTTPClient struct {
	baseURL string
	http    *http.Client
}

// DirectoryHTTPConfig configures DirectoryHTTPClient.
type DirectoryHTTPConfig struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
}

// NewDirectoryHTTPClient creates a client that retries transient failures
// (connection errors and 5xx) with backoff.
func NewDirectoryHTTPClient(cfg DirectoryHTTPConfig, log zerolog.Logger) *DirectoryHTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = retryLogger{log: log.With().Str("client", "directory_http").Logger()}

	httpClient := rc.StandardClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &DirectoryHTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

type employeeRef struct {
	EmployeeID string `json:"employee_id"`
}

func (c *DirectoryHTTPClient) GetDepartmentHead(ctx context.Context, organizationID, departmentID string) (string, error) {
	var ref employeeRef
	found, err := c.get(ctx, organizationID, "/api/v1/departments/"+url.PathEscape(departmentID)+"/head", &ref)
	if err != nil || !found {
		return "", err
	}
	return ref.EmployeeID, nil
}

func (c *DirectoryHTTPClient) GetSubDepartmentHead(ctx context.Context, organizationID, subDepartmentID string) (string, error) {
	var ref employeeRef
	found, err := c.get(ctx, organizationID, "/api/v1/sub-departments/"+url.PathEscape(subDepartmentID)+"/head", &ref)
	if err != nil || !found {
		return "", err
	}
	return ref.EmployeeID, nil
}

func (c *DirectoryHTTPClient) EmployeeExists(ctx context.Context, organizationID, employeeID string) (bool, error) {
	var employee struct {
		ID       string `json:"id"`
		IsActive *bool  `json:"is_active"`
	}
	found, err := c.get(ctx, organizationID, "/api/v1/employees/"+url.PathEscape(employeeID), &employee)
	if err != nil || !found {
		return false, err
	}
	if employee.IsActive != nil && !*employee.IsActive {
		return false, nil
	}
	return true, nil
}

func (c *DirectoryHTTPClient) GetRoleHolder(ctx context.Context, organizationID, roleCode, departmentID string) (string, error) {
	path := "/api/v1/roles/" + url.PathEscape(roleCode) + "/holder"
	if departmentID != "" {
		path += "?department_id=" + url.QueryEscape(departmentID)
	}

	var ref employeeRef
	found, err := c.get(ctx, organizationID, path, &ref)
	if err != nil || !found {
		return "", err
	}
	return ref.EmployeeID, nil
}

// get decodes a JSON body into out. It reports found=false on 404.
func (c *DirectoryHTTPClient) get(ctx context.Context, organizationID, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Organization-ID", organizationID)
	if token := bearerFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("directory request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("directory request %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return true, nil
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.event(l.log.Error(), msg, kv) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.event(l.log.Debug(), msg, kv) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.event(l.log.Debug(), msg, kv) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.event(l.log.Warn(), msg, kv) }

func (l retryLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	e.Msg(msg)
}
