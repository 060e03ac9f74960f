package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

type metadataWriteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	TaskID  int64  `json:"task_id"`
}

type metadataReadResponse struct {
	Result map[string]any `json:"result"`
}

// ModifyMetadata patches item metadata through the archive's metadata API.
// Existing keys are replaced (or appended to when opts.Append is set); new
// keys are added.
func (s *S3Service) ModifyMetadata(ctx context.Context, identifier string, md Metadata, opts MetadataOptions) error {
	target := opts.Target
	if target == "" {
		target = "metadata"
	}
	md = md.WithScanner(s.cfg.Scanner)

	current, err := s.readMetadata(ctx, identifier, target)
	if err != nil {
		return err
	}

	patch := make([]patchOp, 0, len(md))
	for _, key := range md.Keys() {
		value := md[key]
		existing, ok := current[key]
		switch {
		case !ok:
			patch = append(patch, patchOp{Op: "add", Path: "/" + key, Value: value})
		case opts.Append:
			patch = append(patch, patchOp{Op: "replace", Path: "/" + key, Value: existing + " " + value})
		case existing != value:
			patch = append(patch, patchOp{Op: "replace", Path: "/" + key, Value: value})
		}
	}
	if len(patch) == 0 {
		return nil
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return &ServiceError{Op: "ModifyMetadata", Identifier: identifier, Err: err}
	}

	form := url.Values{}
	form.Set("-target", target)
	form.Set("-patch", string(body))
	form.Set("access", s.cfg.AccessKey)
	form.Set("secret", s.cfg.SecretKey)
	if opts.Priority != 0 {
		form.Set("priority", strconv.Itoa(opts.Priority))
	}

	endpoint := s.cfg.MetadataURL + "/metadata/" + url.PathEscape(identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &ServiceError{Op: "ModifyMetadata", Identifier: identifier, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return &ServiceError{Op: "ModifyMetadata", Identifier: identifier, Kind: ErrUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError("ModifyMetadata", identifier, resp); err != nil {
		return err
	}

	var out metadataWriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &ServiceError{Op: "ModifyMetadata", Identifier: identifier, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success {
		return &ServiceError{Op: "ModifyMetadata", Identifier: identifier, Err: fmt.Errorf("rejected: %s", out.Error)}
	}
	return nil
}

// readMetadata returns the current string-valued fields of target.
func (s *S3Service) readMetadata(ctx context.Context, identifier, target string) (map[string]string, error) {
	endpoint := s.cfg.MetadataURL + "/metadata/" + url.PathEscape(identifier) + "/" + target
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ServiceError{Op: "ReadMetadata", Identifier: identifier, Err: err}
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "ReadMetadata", Identifier: identifier, Kind: ErrUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError("ReadMetadata", identifier, resp); err != nil {
		return nil, err
	}

	var out metadataReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ServiceError{Op: "ReadMetadata", Identifier: identifier, Err: fmt.Errorf("decode response: %w", err)}
	}

	fields := make(map[string]string, len(out.Result))
	for k, v := range out.Result {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			fields[k] = strings.Join(parts, ";")
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields, nil
}

func statusError(op, identifier string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := &ServiceError{
		Op:         op,
		Identifier: identifier,
		Err:        fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		err.Kind = ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		err.Kind = ErrInvalidCredentials
	case resp.StatusCode == http.StatusForbidden:
		err.Kind = ErrAccessDenied
	case resp.StatusCode == http.StatusTooManyRequests:
		err.Kind = ErrThrottled
	case resp.StatusCode >= 500:
		err.Kind = ErrUnavailable
	}
	return err
}
