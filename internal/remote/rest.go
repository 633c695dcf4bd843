package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RestStore talks to a Supabase PostgREST endpoint. Filters become
// `column=eq.value` query parameters; upserts use merge-duplicates
// resolution so a duplicate insert is a no-op rather than an error.
type RestStore struct {
	baseURL     string
	anonKey     string
	accessToken string
	httpClient  *http.Client
}

func NewRestStore(baseURL, anonKey string) *RestStore {
	return &RestStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// WithAccessToken returns a copy of the store that authenticates row-level
// security as the given user instead of the anonymous role.
func (s *RestStore) WithAccessToken(token string) *RestStore {
	clone := *s
	clone.accessToken = token
	return &clone
}

func (s *RestStore) Select(ctx context.Context, table string, columns []string, filter Filter) ([]Row, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	q := url.Values{}
	if len(columns) > 0 {
		q.Set("select", strings.Join(columns, ","))
	}
	for col, v := range filter {
		if err := validIdent(col); err != nil {
			return nil, err
		}
		q.Set(col, "eq."+fmt.Sprint(v))
	}
	endpoint := s.baseURL + "/rest/v1/" + table
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var rows []Row
	if err := s.do(ctx, http.MethodGet, endpoint, nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RestStore) Insert(ctx context.Context, table string, row Row) error {
	if err := validIdent(table); err != nil {
		return err
	}
	headers := map[string]string{"Prefer": "return=minimal"}
	return s.do(ctx, http.MethodPost, s.baseURL+"/rest/v1/"+table, headers, row, nil)
}

func (s *RestStore) Update(ctx context.Context, table string, patch Row, filter Filter) error {
	if err := validIdent(table); err != nil {
		return err
	}
	q := url.Values{}
	for col, v := range filter {
		if err := validIdent(col); err != nil {
			return err
		}
		q.Set(col, "eq."+fmt.Sprint(v))
	}
	endpoint := s.baseURL + "/rest/v1/" + table
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	headers := map[string]string{"Prefer": "return=minimal"}
	return s.do(ctx, http.MethodPatch, endpoint, headers, patch, nil)
}

func (s *RestStore) Upsert(ctx context.Context, table string, row Row, conflictCols []string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	endpoint := s.baseURL + "/rest/v1/" + table
	if len(conflictCols) > 0 {
		q := url.Values{}
		q.Set("on_conflict", strings.Join(conflictCols, ","))
		endpoint += "?" + q.Encode()
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	return s.do(ctx, http.MethodPost, endpoint, headers, row, nil)
}

func (s *RestStore) RPC(ctx context.Context, name string, params map[string]any) (Row, error) {
	if err := validIdent(name); err != nil {
		return nil, err
	}
	var out Row
	err := s.do(ctx, http.MethodPost, s.baseURL+"/rest/v1/rpc/"+name, nil, params, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, ErrRPCUnsupported
		}
		return nil, err
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.code, e.body)
}

func (s *RestStore) do(ctx context.Context, method, endpoint string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.anonKey)
	token := s.accessToken
	if token == "" {
		token = s.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		// Procedures that return scalars or arrays are not decoded into
		// a Row; callers of RPC only need success/failure.
		if _, isRow := out.(*Row); isRow {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
