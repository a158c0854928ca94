package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper applying a Policy to every request.
// Requests with a body must be replayable through GetBody, which
// http.NewRequest sets for bytes, strings and bytes.Reader bodies.
type Transport struct {
	Base   http.RoundTripper
	Policy *Policy
	Target string
}

func NewTransport(base http.RoundTripper, policy *Policy, target string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Policy: policy, Target: target}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	first := true
	target := fmt.Sprintf("%s %s %s", t.Target, req.Method, req.URL.Path)
	return t.Policy.Do(req.Context(), target, func(ctx context.Context) (*http.Response, error) {
		attemptReq := req
		if !first {
			clone, err := rewind(req)
			if err != nil {
				return nil, err
			}
			attemptReq = clone
		}
		first = false
		return t.Base.RoundTrip(attemptReq)
	})
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body for %s cannot be replayed", req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// NewHTTPClient returns an http.Client whose transport retries per policy.
// timeout bounds the whole call including retries.
func NewHTTPClient(policy *Policy, target string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(nil, policy, target),
		Timeout:   timeout,
	}
}
