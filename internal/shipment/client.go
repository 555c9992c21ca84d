package shipment

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// tokenSlack is subtracted from the token lifetime so a token is refreshed
// shortly before the provider would reject it.
const tokenSlack = time.Minute

// Client is an HTTP Dispatcher implementation. The provider issues expiring
// bearer tokens; the token is cached process-wide, populated on first use or
// after a 401, and a rejected request is retried exactly once with a fresh
// token.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time

	now func() time.Time
}

var _ Dispatcher = (*Client)(nil)

// NewClient creates a dispatcher client. The http.Client must carry a
// bounded timeout.
func NewClient(baseURL, email, password string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:  baseURL,
		email:    email,
		password: password,
		http:     httpClient,
		now:      time.Now,
	}
}

// CreateShipment registers the order with the provider.
func (c *Client) CreateShipment(ctx context.Context, snapshot OrderSnapshot) (Shipment, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(snapshot.OrderID)
	e.FieldStart("sub_total")
	e.Str(snapshot.SubTotal.String())
	e.FieldStart("order_items")
	e.ArrStart()
	for _, item := range snapshot.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(item.ProductID)
		e.FieldStart("name")
		e.Str(item.ProductName)
		e.FieldStart("sku")
		e.Str(item.SKU)
		e.FieldStart("units")
		e.Int(item.Quantity)
		e.FieldStart("selling_price")
		e.Str(item.UnitPrice.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	body, err := c.call(ctx, http.MethodPost, "/orders/create", e.Bytes())
	if err != nil {
		return Shipment{}, errors.Wrap(err, "create shipment")
	}

	sh := Shipment{}
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shipment_id":
			sh.ID, err = d.Str()
		case "order_id":
			sh.OrderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return Shipment{}, errors.Wrap(err, "decode shipment response")
	}
	if sh.ID == "" {
		return Shipment{}, errors.New("provider returned no shipment id")
	}
	return sh, nil
}

// GenerateLabel requests a printable label and returns its URL.
func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (string, error) {
	body, err := c.call(ctx, http.MethodGet, "/courier/label?shipment_id="+shipmentID, nil)
	if err != nil {
		return "", errors.Wrap(err, "generate label")
	}

	var labelURL string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "label_url" {
			return d.Skip()
		}
		v, err := d.Str()
		labelURL = v
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode label response")
	}
	return labelURL, nil
}

// Track reports the shipment's transit status.
func (c *Client) Track(ctx context.Context, shipmentID string) (TrackingInfo, error) {
	body, err := c.call(ctx, http.MethodGet, "/courier/track?shipment_id="+shipmentID, nil)
	if err != nil {
		return TrackingInfo{}, errors.Wrap(err, "track shipment")
	}

	info := TrackingInfo{}
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			info.Status, err = d.Str()
		case "courier":
			info.Courier, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return TrackingInfo{}, errors.Wrap(err, "decode tracking response")
	}
	return info, nil
}

// Cancel asks the provider to cancel the shipment.
func (c *Client) Cancel(ctx context.Context, shipmentID string) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("shipment_id")
	e.Str(shipmentID)
	e.ObjEnd()

	if _, err := c.call(ctx, http.MethodPost, "/orders/cancel", e.Bytes()); err != nil {
		return errors.Wrap(err, "cancel shipment")
	}
	return nil
}

// call performs an authenticated request. On 401 the cached token is
// invalidated and the request is retried once with a fresh token; a second
// 401 surfaces as an error so an authentication outage cannot loop.
func (c *Client) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	respBody, status, err := c.doAuthed(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken()
		respBody, status, err = c.doAuthed(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, errors.Errorf("provider responded %d: %s", status, respBody)
	}
	return respBody, nil
}

func (c *Client) doAuthed(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return respBody, resp.StatusCode, nil
}

// ensureToken returns the cached token, authenticating when the cache is
// empty or past its expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("email")
	e.Str(c.email)
	e.FieldStart("password")
	e.Str(c.password)
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(e.Bytes()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "authenticate")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("authentication failed: %d", resp.StatusCode)
	}

	var (
		token     string
		expiresIn int64
	)
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "token":
			token, err = d.Str()
		case "expires_in":
			expiresIn, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode auth response")
	}
	if token == "" {
		return "", errors.New("provider returned no token")
	}

	ttl := time.Duration(expiresIn) * time.Second
	if ttl <= tokenSlack {
		ttl = 10 * 24 * time.Hour // provider default when no expiry is reported
	}
	c.token = token
	c.expires = c.now().Add(ttl - tokenSlack)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
