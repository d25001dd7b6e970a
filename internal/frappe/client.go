// Package frappe is the HTTP gateway to a Frappe/ERPNext HR site.
package frappe

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

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

const (
	doctypeEmployee    = "Employee"
	doctypeCheckin     = "Employee Checkin"
	doctypeLeave       = "Leave Application"
	doctypeHRSettings  = "HR Settings"
	methodLoggedUser   = "frappe.auth.get_logged_user"
	methodTimesheet    = "tta.api.timesheet.create_timesheet_for_punch"
	methodPing         = "ping"
	referencePageLimit = "1000"
)

// Client is an authenticated Frappe REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
}

// NewClient returns a client for the site at baseURL. Datetimes are sent and
// parsed in loc; nil means UTC.
func NewClient(baseURL string, httpClient *http.Client, loc *time.Location) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, loc: loc}
}

// PingURL is the unauthenticated endpoint used to probe reachability.
func PingURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/method/" + methodPing
}

func resourcePath(doctype string, name ...string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	for _, n := range name {
		p += "/" + url.PathEscape(n)
	}
	return p
}

func methodPath(method string) string {
	return "/api/method/" + method
}

// do sends a request and decodes the JSON response into out. Non-2xx
// responses become *RemoteError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRemoteError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func listQuery(fields []string, filters [][]any, limit string) url.Values {
	q := url.Values{}
	f, _ := json.Marshal(fields)
	q.Set("fields", string(f))
	if len(filters) > 0 {
		fl, _ := json.Marshal(filters)
		q.Set("filters", string(fl))
	}
	q.Set("limit_page_length", limit)
	return q
}

// FetchReferenceList returns a master data list. Rows without a name are
// dropped; projects use their project_name as display name when present.
func (c *Client) FetchReferenceList(ctx context.Context, kind model.ReferenceKind) ([]model.Reference, error) {
	fields := []string{"name"}
	if kind == model.KindProject {
		fields = append(fields, "project_name")
	}

	var resp struct {
		Data []struct {
			Name        string `json:"name"`
			ProjectName string `json:"project_name"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(string(kind)), listQuery(fields, nil, referencePageLimit), nil, &resp); err != nil {
		return nil, err
	}

	refs := make([]model.Reference, 0, len(resp.Data))
	for _, row := range resp.Data {
		if row.Name == "" {
			continue
		}
		display := row.ProjectName
		if display == "" {
			display = row.Name
		}
		refs = append(refs, model.Reference{ID: row.Name, Name: display})
	}
	return refs, nil
}

// CurrentUser returns the login name of the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, methodPath(methodLoggedUser), nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Message == "" {
		return "", fmt.Errorf("%s returned no user", methodLoggedUser)
	}
	return resp.Message, nil
}

// ResolveCurrentEmployee maps the authenticated user to their Employee id.
func (c *Client) ResolveCurrentEmployee(ctx context.Context) (string, error) {
	user, err := c.CurrentUser(ctx)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	q := listQuery([]string{"name", "user_id"}, [][]any{{"user_id", "=", user}}, "1")
	if err := c.do(ctx, http.MethodGet, resourcePath(doctypeEmployee), q, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].Name == "" {
		return "", fmt.Errorf("%w: %s", ErrNoEmployee, user)
	}
	return resp.Data[0].Name, nil
}

// SubmitCheckin creates an Employee Checkin.
func (c *Client) SubmitCheckin(ctx context.Context, ev model.CheckinEvent) error {
	doc := map[string]any{
		"doctype":  doctypeCheckin,
		"employee": ev.Employee,
		"time":     timecalc.WireDateTime(ev.Time, c.loc),
		"log_type": string(ev.Direction),
	}
	if ev.Location != nil {
		doc["latitude"] = ev.Location.Latitude
		doc["longitude"] = ev.Location.Longitude
	}
	return c.do(ctx, http.MethodPost, resourcePath(doctypeCheckin), nil, doc, nil)
}

// SubmitTimesheet asks the site to build a timesheet from a punch pair.
func (c *Client) SubmitTimesheet(ctx context.Context, req model.TimesheetRequest) (model.Timesheet, error) {
	body := map[string]any{
		"employee":      req.Employee,
		"project":       req.ProjectRef,
		"activity_type": req.ActivityRef,
		"from_time":     timecalc.WireDateTime(req.From, c.loc),
		"to_time":       timecalc.WireDateTime(req.To, c.loc),
		"note":          "",
	}
	var resp struct {
		Message model.Timesheet `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, methodPath(methodTimesheet), nil, body, &resp); err != nil {
		return model.Timesheet{}, err
	}
	return resp.Message, nil
}

// SubmitLeaveRequest creates a Leave Application.
func (c *Client) SubmitLeaveRequest(ctx context.Context, app model.LeaveApplication) error {
	doc := map[string]any{
		"doctype":    doctypeLeave,
		"employee":   app.Employee,
		"from_date":  app.From,
		"to_date":    app.To,
		"leave_type": app.LeaveType,
	}
	if app.Reason != "" {
		doc["description"] = app.Reason
	}
	return c.do(ctx, http.MethodPost, resourcePath(doctypeLeave), nil, doc, nil)
}

// flag accepts the 0/1, boolean and string forms Frappe uses for checkboxes.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// FetchHRSettings reads the HR Settings single doctype.
func (c *Client) FetchHRSettings(ctx context.Context) (model.Settings, error) {
	var resp struct {
		Data struct {
			AllowGeolocationTracking flag `json:"allow_geolocation_tracking"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctypeHRSettings, doctypeHRSettings), nil, nil, &resp); err != nil {
		return model.Settings{}, err
	}
	return model.Settings{GeolocationRequired: bool(resp.Data.AllowGeolocationTracking)}, nil
}

// FetchEmployees lists active employees.
func (c *Client) FetchEmployees(ctx context.Context) ([]model.Employee, error) {
	var resp struct {
		Data []model.Employee `json:"data"`
	}
	q := listQuery([]string{"name", "employee_name"}, [][]any{{"status", "=", "Active"}}, referencePageLimit)
	if err := c.do(ctx, http.MethodGet, resourcePath(doctypeEmployee), q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FetchTodayCheckins lists all check-ins on the calendar day of now in the
// site's timezone, oldest first.
func (c *Client) FetchTodayCheckins(ctx context.Context, now time.Time) ([]model.Checkin, error) {
	day := timecalc.StartOfDay(now.In(c.loc))
	from := timecalc.WireDateTime(day, c.loc)
	to := timecalc.WireDateTime(day.AddDate(0, 0, 1), c.loc)

	var resp struct {
		Data []struct {
			Name      string `json:"name"`
			Employee  string `json:"employee"`
			Time      string `json:"time"`
			Direction string `json:"log_type"`
		} `json:"data"`
	}
	q := listQuery(
		[]string{"name", "employee", "time", "log_type"},
		[][]any{{"time", ">=", from}, {"time", "<", to}},
		referencePageLimit,
	)
	q.Set("order_by", "time asc")
	if err := c.do(ctx, http.MethodGet, resourcePath(doctypeCheckin), q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]model.Checkin, 0, len(resp.Data))
	for _, row := range resp.Data {
		t, err := timecalc.ParseWireDateTime(row.Time, c.loc)
		if err != nil {
			return nil, fmt.Errorf("checkin %s: %w", row.Name, err)
		}
		out = append(out, model.Checkin{ID: row.Name, Employee: row.Employee, Time: t, Direction: model.Direction(row.Direction)})
	}
	return out, nil
}
