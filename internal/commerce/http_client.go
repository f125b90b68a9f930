package commerce

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

	"github.com/jmehdipour/recurring-orders/internal/breaker"
	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/payment"
	"github.com/jmehdipour/recurring-orders/internal/util"
	"go.uber.org/zap"
)

type Options struct {
	BaseURL        string
	PublishableKey string
	APIToken       string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	FailThreshold  int
	OpenFor        time.Duration
	Logger         *zap.Logger
}

// HTTPClient implements Client over the commerce store API. Every call is
// retried on transport errors, 429 and 5xx up to MaxAttempts; non-GET calls
// reuse one Idempotency-Key across attempts.
type HTTPClient struct {
	baseURL        string
	publishableKey string
	apiToken       string
	client         *http.Client
	br             *breaker.Breaker
	maxAttempts    int
	backoff        time.Duration
	log            *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		publishableKey: opts.PublishableKey,
		apiToken:       opts.APIToken,
		client:         &http.Client{Timeout: opts.Timeout},
		br:             breaker.New(opts.FailThreshold, opts.OpenFor),
		maxAttempts:    opts.MaxAttempts,
		backoff:        opts.RetryBackoff,
		log:            opts.Logger,
	}
}

// apiError is a non-2xx answer that should not be retried.
type apiError struct {
	status int
	body   []byte
}

func (e *apiError) Error() string {
	b := strings.TrimSpace(string(e.body))
	if len(b) > 512 {
		b = b[:512] + "..."
	}
	return fmt.Sprintf("status=%d body=%s", e.status, b)
}

type call struct {
	op      string
	method  string
	path    string
	body    any
	out     any
	idemKey string
}

func (c *HTTPClient) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", cl.op, err)
		}
		payload = b
	}
	if cl.method != http.MethodGet && cl.idemKey == "" {
		cl.idemKey = util.NewID()
	}

	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, time.Duration(attempt-1)*c.backoff); err != nil {
				break
			}
		}
		if !c.br.TryAcquire() {
			metrics.CommerceCalls.WithLabelValues(cl.op, "breaker_open").Inc()
			return &errs.ExternalServiceError{Op: cl.op, Err: errs.ErrBreakerOpen}
		}

		retry, err := c.attempt(ctx, cl, payload)
		if err == nil {
			metrics.CommerceCalls.WithLabelValues(cl.op, "ok").Inc()
			return nil
		}
		last = err
		if !retry || ctx.Err() != nil {
			break
		}
		metrics.CommerceCalls.WithLabelValues(cl.op, "retry").Inc()
		c.log.Warn("commerce call failed, retrying",
			zap.String("op", cl.op), zap.Int("attempt", attempt), zap.Error(err))
	}

	metrics.CommerceCalls.WithLabelValues(cl.op, "error").Inc()
	var ae *apiError
	if errors.As(last, &ae) {
		return &errs.ExternalServiceError{Op: cl.op, Status: ae.status, Err: ae}
	}
	if last == nil {
		last = ctx.Err()
	}
	return errs.External(cl.op, last)
}

// attempt performs one HTTP exchange and reports whether a failure is retryable.
func (c *HTTPClient) attempt(ctx context.Context, cl call, payload []byte) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		c.br.OnSuccess()
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.publishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.publishableKey)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if cl.idemKey != "" {
		req.Header.Set("Idempotency-Key", cl.idemKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		c.br.OnFailure()
		return true, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		c.br.OnFailure()
		return true, fmt.Errorf("read body: %w", err)
	}

	switch {
	case res.StatusCode/100 == 2:
		c.br.OnSuccess()
		if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return false, nil
		}
		if err := json.Unmarshal(raw, cl.out); err != nil {
			return false, fmt.Errorf("decode %s response: %w", cl.op, err)
		}
		return false, nil
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		c.br.OnFailure()
		return true, &apiError{status: res.StatusCode, body: raw}
	default:
		// the service answered; a 4xx says nothing about its health
		c.br.OnSuccess()
		return false, &apiError{status: res.StatusCode, body: raw}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusOf(err error) int {
	var ee *errs.ExternalServiceError
	if errors.As(err, &ee) {
		return ee.Status
	}
	return 0
}

func notFoundAs(err error, resource, id string) error {
	if statusOf(err) == http.StatusNotFound {
		return errs.NotFound(resource, id)
	}
	return err
}

type cartEnvelope struct {
	Cart *Cart `json:"cart"`
}

func (c *HTTPClient) cartCall(ctx context.Context, cl call) (*Cart, error) {
	var env cartEnvelope
	cl.out = &env
	if err := c.do(ctx, cl); err != nil {
		return nil, err
	}
	if env.Cart == nil || env.Cart.ID == "" {
		return nil, &errs.ExternalServiceError{Op: cl.op, Message: cl.op + " returned no cart"}
	}
	return env.Cart, nil
}

func (c *HTTPClient) CreateCart(ctx context.Context, in CreateCartInput) (*Cart, error) {
	var env cartEnvelope
	if err := c.do(ctx, call{op: "cart creation", method: http.MethodPost, path: "/store/carts", body: in, out: &env}); err != nil {
		return nil, err
	}
	if env.Cart == nil || env.Cart.ID == "" {
		return nil, &errs.ExternalServiceError{Op: "cart creation", Message: "cart creation failed"}
	}
	return env.Cart, nil
}

func (c *HTTPClient) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	cart, err := c.cartCall(ctx, call{op: "cart retrieval", method: http.MethodGet, path: "/store/carts/" + url.PathEscape(cartID)})
	return cart, notFoundAs(err, "cart", cartID)
}

func (c *HTTPClient) UpdateCart(ctx context.Context, cartID string, in UpdateCartInput) (*Cart, error) {
	return c.cartCall(ctx, call{op: "cart update", method: http.MethodPost, path: "/store/carts/" + url.PathEscape(cartID), body: in})
}

func (c *HTTPClient) AddLineItem(ctx context.Context, cartID, variantID string, quantity int) (*Cart, error) {
	body := map[string]any{"variant_id": variantID, "quantity": quantity}
	return c.cartCall(ctx, call{op: "line item add", method: http.MethodPost,
		path: "/store/carts/" + url.PathEscape(cartID) + "/line-items", body: body})
}

func (c *HTTPClient) UpdateLineItem(ctx context.Context, cartID, lineID string, quantity int) (*Cart, error) {
	body := map[string]any{"quantity": quantity}
	return c.cartCall(ctx, call{op: "line item update", method: http.MethodPost,
		path: "/store/carts/" + url.PathEscape(cartID) + "/line-items/" + url.PathEscape(lineID), body: body})
}

func (c *HTTPClient) DeleteLineItem(ctx context.Context, cartID, lineID string) (*Cart, error) {
	var env struct {
		Parent *Cart `json:"parent"`
	}
	err := c.do(ctx, call{op: "line item delete", method: http.MethodDelete,
		path: "/store/carts/" + url.PathEscape(cartID) + "/line-items/" + url.PathEscape(lineID), out: &env})
	if err != nil {
		return nil, err
	}
	if env.Parent == nil {
		return c.GetCart(ctx, cartID)
	}
	return env.Parent, nil
}

func (c *HTTPClient) ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error) {
	var env struct {
		ShippingOptions []ShippingOption `json:"shipping_options"`
	}
	q := url.Values{"cart_id": {cartID}}
	if err := c.do(ctx, call{op: "shipping options listing", method: http.MethodGet, path: "/store/shipping-options?" + q.Encode(), out: &env}); err != nil {
		return nil, err
	}
	return env.ShippingOptions, nil
}

func (c *HTTPClient) AddShippingMethod(ctx context.Context, cartID, optionID string) (*Cart, error) {
	return c.cartCall(ctx, call{op: "shipping method attach", method: http.MethodPost,
		path: "/store/carts/" + url.PathEscape(cartID) + "/shipping-methods", body: map[string]any{"option_id": optionID}})
}

type collectionEnvelope struct {
	PaymentCollection *PaymentCollection `json:"payment_collection"`
}

func (c *HTTPClient) collectionCall(ctx context.Context, cl call) (*PaymentCollection, error) {
	var env collectionEnvelope
	cl.out = &env
	if err := c.do(ctx, cl); err != nil {
		return nil, err
	}
	if env.PaymentCollection == nil || env.PaymentCollection.ID == "" {
		return nil, &errs.ExternalServiceError{Op: cl.op, Message: cl.op + " returned no payment collection"}
	}
	return env.PaymentCollection, nil
}

func (c *HTTPClient) CreatePaymentCollection(ctx context.Context, cartID string) (*PaymentCollection, error) {
	return c.collectionCall(ctx, call{op: "payment collection creation", method: http.MethodPost,
		path: "/store/payment-collections", body: map[string]any{"cart_id": cartID},
		idemKey: util.IdempotencyKey("payment-collection", cartID)})
}

func (c *HTTPClient) GetPaymentCollection(ctx context.Context, collectionID string) (*PaymentCollection, error) {
	pc, err := c.collectionCall(ctx, call{op: "payment collection retrieval", method: http.MethodGet,
		path: "/store/payment-collections/" + url.PathEscape(collectionID)})
	return pc, notFoundAs(err, "payment collection", collectionID)
}

func (c *HTTPClient) CreatePaymentSession(ctx context.Context, collectionID, providerID string, data map[string]any) (*PaymentCollection, error) {
	body := map[string]any{"provider_id": providerID, "data": data}
	return c.collectionCall(ctx, call{op: "payment session creation", method: http.MethodPost,
		path: "/store/payment-collections/" + url.PathEscape(collectionID) + "/payment-sessions", body: body})
}

func (c *HTTPClient) ConfirmPaymentSession(ctx context.Context, collectionID, sessionID string) (*PaymentSession, error) {
	var env struct {
		PaymentSession *PaymentSession `json:"payment_session"`
	}
	err := c.do(ctx, call{op: "payment confirmation", method: http.MethodPost,
		path:    "/store/payment-collections/" + url.PathEscape(collectionID) + "/payment-sessions/" + url.PathEscape(sessionID) + "/confirm",
		out:     &env,
		idemKey: util.IdempotencyKey("confirm", sessionID)})
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.status/100 == 4 {
			if pe, ok := payment.ParseProviderError(ae.body); ok && pe.AlreadySucceeded() {
				return nil, &errs.AlreadySucceededError{PaymentSessionID: sessionID, Message: pe.Message}
			}
		}
		return nil, err
	}
	if env.PaymentSession == nil {
		return &PaymentSession{ID: sessionID}, nil
	}
	return env.PaymentSession, nil
}

func (c *HTTPClient) CompleteCart(ctx context.Context, cartID string) (*Order, error) {
	var env struct {
		Type  string `json:"type"`
		Order *Order `json:"order"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := c.do(ctx, call{op: "cart completion", method: http.MethodPost,
		path:    "/store/carts/" + url.PathEscape(cartID) + "/complete",
		out:     &env,
		idemKey: util.IdempotencyKey("complete", cartID)})
	if err != nil {
		return nil, notFoundAs(err, "cart", cartID)
	}
	if env.Type != "order" || env.Order == nil || env.Order.ID == "" {
		msg := "cart completion failed"
		if env.Error != nil && env.Error.Message != "" {
			msg = "cart completion failed: " + env.Error.Message
		}
		return nil, &errs.ExternalServiceError{Op: "cart completion", Message: msg}
	}
	return env.Order, nil
}
