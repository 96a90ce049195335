package exchange

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// tokenParamsTransport adds provider-specific form fields to every request
// sent to the token endpoint, including refreshes.
type tokenParamsTransport struct {
	base     http.RoundTripper
	tokenURL string
	params   map[string]string
}

func (t *tokenParamsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil || !sameEndpoint(req.URL, t.tokenURL) {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	for k, v := range t.params {
		if form.Get(k) == "" {
			form.Set(k, v)
		}
	}
	encoded := form.Encode()

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(strings.NewReader(encoded))
	clone.ContentLength = int64(len(encoded))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(encoded))), nil
	}
	return t.base.RoundTrip(clone)
}

func sameEndpoint(u *url.URL, raw string) bool {
	target, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == target.Host && strings.TrimRight(u.Path, "/") == strings.TrimRight(target.Path, "/")
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
