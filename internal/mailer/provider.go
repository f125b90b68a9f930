package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/breaker"
	"github.com/jmehdipour/recurring-orders/internal/model"
)

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, from string, email model.Email) error
}

// HTTPProvider posts JSON emails to a transactional mail API.
type HTTPProvider struct {
	name    string
	baseURL string
	path    string
	apiKey  string
	client  *http.Client
	br      *breaker.Breaker
}

type ProviderOpts struct {
	Name          string
	BaseURL       string
	Path          string
	APIKey        string
	TimeoutMs     int
	FailThreshold int
	OpenForMs     int
}

func NewHTTPProvider(o ProviderOpts) *HTTPProvider {
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = 5000
	}
	if o.FailThreshold <= 0 {
		o.FailThreshold = 3
	}
	if o.OpenForMs <= 0 {
		o.OpenForMs = 15000
	}

	return &HTTPProvider{
		name:    o.Name,
		baseURL: o.BaseURL,
		path:    o.Path,
		apiKey:  o.APIKey,
		client:  &http.Client{Timeout: time.Duration(o.TimeoutMs) * time.Millisecond},
		br:      breaker.New(o.FailThreshold, time.Duration(o.OpenForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, from string, email model.Email) error {
	if err := p.post(ctx, from, email); err != nil {
		p.br.OnFailure()
		return err
	}

	p.br.OnSuccess()

	return nil
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (p *HTTPProvider) post(ctx context.Context, from string, email model.Email) error {
	b, err := json.Marshal(sendRequest{From: from, To: email.To, Subject: email.Subject, HTML: email.HTML, Text: email.Text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("provider=%s status=%d", p.name, res.StatusCode)
	}

	return nil
}
