package payment

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Client is an HTTP Gateway implementation using key/secret basic auth, the
// scheme used by Razorpay-style gateways.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client. The http.Client must carry a bounded
// timeout: an unresponsive gateway has to fail the checkout, not hang it.
func NewClient(baseURL, keyID, keySecret string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      httpClient,
	}
}

// CreateIntent reserves a gateway order for the amount.
func (c *Client) CreateIntent(ctx context.Context, amountMinorUnits int64, currency, receipt string, metadata map[string]string) (string, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(amountMinorUnits)
	e.FieldStart("currency")
	e.Str(currency)
	e.FieldStart("receipt")
	e.Str(receipt)
	if len(metadata) > 0 {
		e.FieldStart("notes")
		e.ObjStart()
		for k, v := range metadata {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	body, err := c.post(ctx, "/v1/orders", e.Bytes())
	if err != nil {
		return "", errors.Wrap(err, "create intent")
	}

	var intentID string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		intentID = v
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode intent response")
	}
	if intentID == "" {
		return "", errors.New("gateway returned no intent id")
	}
	return intentID, nil
}

// FetchPayment reports a payment's gateway status.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Info, error) {
	body, err := c.get(ctx, "/v1/payments/"+paymentID)
	if err != nil {
		return Info{}, errors.Wrap(err, "fetch payment")
	}

	info := Info{}
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			info.ID, err = d.Str()
		case "status":
			info.Status, err = d.Str()
		case "amount":
			info.AmountMinorUnits, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return Info{}, errors.Wrap(err, "decode payment response")
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("gateway responded %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
