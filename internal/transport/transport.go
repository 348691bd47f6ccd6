// Package transport executes request descriptors against the backend
// service over HTTPS. It resolves descriptor auth modes into concrete
// credentials: identified requests carry basic auth, unidentified
// requests carry the unidentified-access header, anonymous requests
// carry neither.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/request"
)

const accessKeyHeader = "Unidentified-Access-Key"

// Sender delivers a request descriptor and returns the response body.
type Sender interface {
	Send(ctx context.Context, d request.Descriptor) (*Response, error)
}

// Response is the decoded outcome of a delivered request.
type Response struct {
	Status int
	Body   []byte
}

// JSON unmarshals the response body into out.
func (r *Response) JSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d", e.Status)
}

// Credentials authenticate identified requests.
type Credentials struct {
	Username string
	Password string
}

// HTTPSender sends descriptors with net/http.
type HTTPSender struct {
	serviceURL string
	creds      Credentials
	httpClient *http.Client
	log        *logrus.Entry
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender returns a sender targeting serviceURL, e.g.
// "https://chat.kestrel.example".
func NewHTTPSender(serviceURL string, creds Credentials) *HTTPSender {
	return &HTTPSender{
		serviceURL: serviceURL,
		creds:      creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logrus.WithField("component", "transport"),
	}
}

func (s *HTTPSender) Send(ctx context.Context, d request.Descriptor) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, d.Method, s.serviceURL+d.URL(), bytes.NewReader(d.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range d.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if len(d.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	switch {
	case d.Auth.IsIdentified():
		req.SetBasicAuth(s.creds.Username, s.creds.Password)
	case d.Auth.IsUnidentified():
		key, ok := d.Auth.AccessKey()
		if !ok {
			return nil, fmt.Errorf("unidentified request without access key: %s %s", d.Method, d.Path)
		}
		req.Header.Set(accessKeyHeader, base64.StdEncoding.EncodeToString(key[:]))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"method": d.Method,
		"path":   d.Path,
		"auth":   d.Auth.String(),
		"status": resp.StatusCode,
	}).Debug("request completed")

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Body: body}
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}
