package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Config configures an HTTPClient.
type Config struct {
	// Host is the server base URL, e.g. "https://fms.example.com".
	Host string
	// Database is the FileMaker database (solution) name.
	Database string
	// Session provides the login call used to open and renew sessions.
	Session SessionProvider
	// APIVersion defaults to "v1".
	APIVersion string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// HTTPClient implements Client against the FileMaker Data API. It holds one
// session token, renews it once when the server reports it invalid, and
// otherwise performs no retries.
type HTTPClient struct {
	host       string
	database   string
	apiVersion string
	session    SessionProvider
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewHTTPClient validates cfg and returns a client. No network activity
// happens until the first call.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("client: Host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("client: Database is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("client: Session provider is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v1"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		host:       strings.TrimRight(cfg.Host, "/"),
		database:   cfg.Database,
		apiVersion: version,
		session:    cfg.Session,
		httpClient: hc,
		logger:     logger,
	}, nil
}

// Close logs out the current session, if one is open.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	path := c.databasePath() + "/sessions/" + token
	return c.do(context.Background(), http.MethodDelete, path, nil, nil, "", nil)
}

// --- Record operations ---

func (c *HTTPClient) CreateRecord(ctx context.Context, layout string, req *CreateRecordRequest) (*CreateRecordResponse, error) {
	body := map[string]any{
		"fieldData": req.FieldData,
	}
	if req.FieldData == nil {
		// The server requires the key even for an all-defaults record.
		body["fieldData"] = map[string]any{}
	}
	if len(req.PortalData) > 0 {
		body["portalData"] = req.PortalData
	}

	var resp struct {
		RecordID string `json:"recordId"`
		ModID    string `json:"modId"`
	}
	if err := c.callSession(ctx, http.MethodPost, c.layoutPath(layout)+"/records", body, nil, &resp); err != nil {
		return nil, err
	}
	return &CreateRecordResponse{RecordID: resp.RecordID, ModID: resp.ModID}, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, layout, recordID string, opts *GetRecordOptions) (*Record, error) {
	params := url.Values{}
	if opts != nil {
		if opts.ResponseLayout != "" {
			params.Set("layout.response", opts.ResponseLayout)
		}
		portalQueryParams(params, opts.Portals)
	}

	var resp struct {
		Data []wireRecord `json:"data"`
	}
	path := c.layoutPath(layout) + "/records/" + url.PathEscape(recordID)
	if err := c.callSession(ctx, http.MethodGet, path, nil, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &APIError{Code: CodeRecordMissing, Message: "record is missing"}
	}
	return resp.Data[0].toRecord()
}

func (c *HTTPClient) ListRecords(ctx context.Context, layout string, req *ListRecordsRequest) ([]*Record, error) {
	params := url.Values{}
	if req.Offset > 0 {
		params.Set("_offset", strconv.Itoa(req.Offset))
	}
	if req.Limit > 0 {
		params.Set("_limit", strconv.Itoa(req.Limit))
	}
	if len(req.Sort) > 0 {
		sortJSON, err := json.Marshal(req.Sort)
		if err != nil {
			return nil, fmt.Errorf("encoding sort: %w", err)
		}
		params.Set("_sort", string(sortJSON))
	}
	portalQueryParams(params, req.Portals)

	var resp struct {
		Data []wireRecord `json:"data"`
	}
	if err := c.callSession(ctx, http.MethodGet, c.layoutPath(layout)+"/records", nil, params, &resp); err != nil {
		return nil, err
	}
	return wireRecords(resp.Data)
}

func (c *HTTPClient) Find(ctx context.Context, layout string, req *FindRequest) ([]*Record, error) {
	query := make([]map[string]string, 0, len(req.Query))
	for _, q := range req.Query {
		entry := make(map[string]string, len(q.Criteria)+1)
		for field, criterion := range q.Criteria {
			entry[field] = criterion
		}
		if q.Omit {
			entry["omit"] = "true"
		}
		query = append(query, entry)
	}

	body := map[string]any{"query": query}
	if len(req.Sort) > 0 {
		body["sort"] = req.Sort
	}
	if req.Offset > 0 {
		body["offset"] = strconv.Itoa(req.Offset)
	}
	if req.Limit > 0 {
		body["limit"] = strconv.Itoa(req.Limit)
	}
	if len(req.Portals) > 0 {
		names := make([]string, 0, len(req.Portals))
		for _, p := range req.Portals {
			names = append(names, p.Name)
			if p.Offset > 0 {
				body["offset."+p.Name] = p.Offset
			}
			if p.Limit > 0 {
				body["limit."+p.Name] = p.Limit
			}
		}
		body["portal"] = names
	}

	var resp struct {
		Data []wireRecord `json:"data"`
	}
	if err := c.callSession(ctx, http.MethodPost, c.layoutPath(layout)+"/_find", body, nil, &resp); err != nil {
		return nil, err
	}
	return wireRecords(resp.Data)
}

func (c *HTTPClient) EditRecord(ctx context.Context, layout, recordID string, req *EditRecordRequest) (*EditRecordResponse, error) {
	fieldData := req.FieldData
	if fieldData == nil {
		fieldData = map[string]any{}
	}
	if len(req.DeleteRelated) > 0 {
		// The protocol expresses portal-row deletion as a fieldData directive.
		fieldData = copyFieldData(fieldData)
		if len(req.DeleteRelated) == 1 {
			fieldData["deleteRelated"] = req.DeleteRelated[0]
		} else {
			fieldData["deleteRelated"] = req.DeleteRelated
		}
	}

	body := map[string]any{"fieldData": fieldData}
	if len(req.PortalData) > 0 {
		body["portalData"] = req.PortalData
	}
	if req.ModID != "" {
		body["modId"] = req.ModID
	}

	var resp struct {
		ModID               string `json:"modId"`
		NewPortalRecordInfo []struct {
			TableName string `json:"tableName"`
			RecordID  string `json:"recordId"`
			ModID     string `json:"modId"`
		} `json:"newPortalRecordInfo"`
	}
	path := c.layoutPath(layout) + "/records/" + url.PathEscape(recordID)
	if err := c.callSession(ctx, http.MethodPatch, path, body, nil, &resp); err != nil {
		return nil, err
	}

	out := &EditRecordResponse{ModID: resp.ModID}
	for _, info := range resp.NewPortalRecordInfo {
		out.NewPortalRecordInfo = append(out.NewPortalRecordInfo, PortalRecordInfo(info))
	}
	return out, nil
}

func (c *HTTPClient) DeleteRecord(ctx context.Context, layout, recordID string) error {
	path := c.layoutPath(layout) + "/records/" + url.PathEscape(recordID)
	return c.callSession(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *HTTPClient) PerformScript(ctx context.Context, layout, name, param string) (*ScriptResult, error) {
	params := url.Values{}
	if param != "" {
		params.Set("script.param", param)
	}

	var resp struct {
		ScriptResult string `json:"scriptResult"`
		ScriptError  string `json:"scriptError"`
	}
	path := c.layoutPath(layout) + "/script/" + url.PathEscape(name)
	if err := c.callSession(ctx, http.MethodGet, path, nil, params, &resp); err != nil {
		return nil, err
	}
	return &ScriptResult{Result: resp.ScriptResult, Error: resp.ScriptError}, nil
}

func (c *HTTPClient) UploadContainer(ctx context.Context, layout, recordID, fieldName string, repetition int, filename string, content io.Reader) error {
	if repetition < 1 {
		repetition = 1
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("upload", filename)
	if err != nil {
		return fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("reading upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("building upload form: %w", err)
	}

	path := c.layoutPath(layout) + "/records/" + url.PathEscape(recordID) +
		"/containers/" + url.PathEscape(fieldName) + "/" + strconv.Itoa(repetition)
	return c.callSessionRaw(ctx, http.MethodPost, path, buf.Bytes(), mw.FormDataContentType(), nil, nil)
}

// --- session management ---

// callSession performs one JSON API call, logging in first if needed. If the
// server reports the session token invalid, the session is renewed once and
// the call repeated; any other error is returned as-is.
func (c *HTTPClient) callSession(ctx context.Context, method, path string, body any, params url.Values, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}
	return c.callSessionRaw(ctx, method, path, encoded, "application/json", params, out)
}

func (c *HTTPClient) callSessionRaw(ctx context.Context, method, path string, body []byte, contentType string, params url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.ensureSession(ctx)
		if err != nil {
			return err
		}

		err = c.do(ctx, method, path, body, params, contentType, out)
		if !hasCode(err, CodeInvalidToken) {
			return err
		}
		lastErr = err

		// Token expired server-side. Invalidate and loop for one re-login.
		c.mu.Lock()
		if c.token == token {
			c.token = ""
		}
		c.mu.Unlock()
		c.logger.Debug("filemaker session token invalid, renewing", "database", c.database)
	}
	// Renewal did not help; surface the server's own error.
	return lastErr
}

func (c *HTTPClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.session.Login(ctx, c)
	if err != nil {
		return "", fmt.Errorf("logging in to %q: %w", c.database, err)
	}
	c.token = token
	c.logger.Debug("filemaker session opened", "database", c.database)
	return token, nil
}

// openSession posts to the sessions endpoint with credentials applied by
// decorate. The stored token is not used; this is the call that mints one.
func (c *HTTPClient) openSession(ctx context.Context, decorate func(*http.Request)) (string, error) {
	target := c.host + c.databasePath() + "/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("performing login request: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Response struct {
			Token string `json:"token"`
		} `json:"response"`
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decoding login response (HTTP %d): %w", resp.StatusCode, err)
	}
	if apiErr := firstError(envelope.Messages); apiErr != nil {
		return "", apiErr
	}
	if envelope.Response.Token == "" {
		return "", fmt.Errorf("login response carried no token")
	}
	return envelope.Response.Token, nil
}

// --- HTTP plumbing ---

func (c *HTTPClient) databasePath() string {
	return "/fmi/data/" + c.apiVersion + "/databases/" + url.PathEscape(c.database)
}

func (c *HTTPClient) layoutPath(layout string) string {
	return c.databasePath() + "/layouts/" + url.PathEscape(layout)
}

// do performs one HTTP round trip and decodes the Data API envelope. A
// non-zero message code becomes an *APIError; the response section, when
// requested, is decoded with json.Number so numeric field values keep their
// full precision.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, params url.Values, contentType string, out any) error {
	target := c.host + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()
	if id, err := nanoid.New(); err == nil {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Messages []wireMessage   `json:"messages"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}

	if apiErr := firstError(envelope.Messages); apiErr != nil {
		return apiErr
	}

	if out != nil && len(envelope.Response) > 0 {
		dec := json.NewDecoder(bytes.NewReader(envelope.Response))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decoding response payload: %w", err)
		}
	}
	return nil
}

// wireMessage is one entry of the envelope's messages array. The server
// reports codes as strings.
type wireMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func firstError(messages []wireMessage) *APIError {
	for _, m := range messages {
		code, err := strconv.Atoi(m.Code)
		if err != nil {
			return &APIError{Code: -1, Message: fmt.Sprintf("unparseable error code %q: %s", m.Code, m.Message)}
		}
		if code != CodeNoError {
			return &APIError{Code: code, Message: m.Message}
		}
	}
	return nil
}

// wireRecord is one data entry of a get/list/find response.
type wireRecord struct {
	RecordID   string                      `json:"recordId"`
	ModID      string                      `json:"modId"`
	FieldData  map[string]any              `json:"fieldData"`
	PortalData map[string][]map[string]any `json:"portalData"`
}

func (w *wireRecord) toRecord() (*Record, error) {
	rec := &Record{
		RecordID:  w.RecordID,
		ModID:     w.ModID,
		FieldData: w.FieldData,
	}
	if rec.FieldData == nil {
		rec.FieldData = map[string]any{}
	}
	if len(w.PortalData) > 0 {
		rec.PortalData = make(map[string][]*PortalRow, len(w.PortalData))
		for portal, rows := range w.PortalData {
			parsed := make([]*PortalRow, 0, len(rows))
			for _, row := range rows {
				pr := &PortalRow{Fields: make(map[string]any, len(row))}
				for key, value := range row {
					switch key {
					case "recordId":
						pr.RecordID = anyToString(value)
					case "modId":
						pr.ModID = anyToString(value)
					default:
						pr.Fields[key] = value
					}
				}
				parsed = append(parsed, pr)
			}
			rec.PortalData[portal] = parsed
		}
	}
	return rec, nil
}

func wireRecords(data []wireRecord) ([]*Record, error) {
	records := make([]*Record, 0, len(data))
	for i := range data {
		rec, err := data[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func copyFieldData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func portalQueryParams(params url.Values, portals []PortalRange) {
	if len(portals) == 0 {
		return
	}
	names := make([]string, 0, len(portals))
	for _, p := range portals {
		names = append(names, strconv.Quote(p.Name))
		if p.Offset > 0 {
			params.Set("_offset."+p.Name, strconv.Itoa(p.Offset))
		}
		if p.Limit > 0 {
			params.Set("_limit."+p.Name, strconv.Itoa(p.Limit))
		}
	}
	params.Set("portal", "["+strings.Join(names, ",")+"]")
}
