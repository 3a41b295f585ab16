package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hdas/crossover/shared"
	"github.com/tidwall/gjson"
)

const (
	// BaseURL is the dhan trading api base url.
	BaseURL = "https://api.dhan.co/v2"

	// Order endpoints and fields.
	ordersPath      = "/orders"
	quotePath       = "/marketfeed/ltp"
	optionChainPath = "/optionchain"

	// rejectedStatus is the gateway order status for rejected orders.
	rejectedStatus = "REJECTED"
)

// DhanConfig represents the configuration for the dhan client.
type DhanConfig struct {
	// ClientID is the dhan client id.
	ClientID string
	// AccessToken is the dhan access token.
	AccessToken string
	// BaseURL is the api base url.
	BaseURL string
}

// DhanClient represents the dhan order gateway client.
type DhanClient struct {
	cfg   *DhanConfig
	httpc http.Client
	buf   *bytes.Buffer
}

// Ensure the dhan client implements the OrderGateway interface.
var _ shared.OrderGateway = (*DhanClient)(nil)

// NewDhanClient instantiates a new dhan client.
func NewDhanClient(cfg *DhanConfig) (*DhanClient, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("dhan client id cannot be an empty string")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dhan access token cannot be an empty string")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("dhan base url cannot be an empty string")
	}

	return &DhanClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 5},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}, nil
}

// formURL creates full urls for the api.
func (c *DhanClient) formURL(path string) string {
	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// post issues an authenticated json request and returns the response body.
func (c *DhanClient) post(ctx context.Context, url string, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request %s: %w", url, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", c.cfg.AccessToken)
	req.Header.Set("client-id", c.cfg.ClientID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", url, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, body)
	}

	return body, nil
}

// PlaceMarketOrder submits the provided market order and returns the filled
// price.
func (c *DhanClient) PlaceMarketOrder(ctx context.Context, order shared.MarketOrder) (float64, error) {
	payload := fmt.Sprintf(`{"dhanClientId":%q,"transactionType":%q,"exchangeSegment":%q,`+
		`"productType":%q,"orderType":"MARKET","securityId":%q,"quantity":%d,"price":0}`,
		c.cfg.ClientID, order.Side.String(), order.ExchangeSegment, order.ProductType,
		order.SecurityID, order.Quantity)

	body, err := c.post(ctx, c.formURL(ordersPath), payload)
	if err != nil {
		return 0, err
	}

	status := gjson.GetBytes(body, "orderStatus").String()
	if status == rejectedStatus {
		return 0, fmt.Errorf("placing %s order for %s: %w", order.Side.String(),
			order.SecurityID, shared.ErrOrderRejected)
	}

	filled := gjson.GetBytes(body, "averageTradedPrice")
	if !filled.Exists() || filled.Float() <= 0 {
		return 0, fmt.Errorf("order response for %s carried no filled price: %s",
			order.SecurityID, body)
	}

	return filled.Float(), nil
}

// Quote returns the last traded price for the provided instrument.
func (c *DhanClient) Quote(ctx context.Context, exchangeSegment string, securityID string) (float64, error) {
	payload := fmt.Sprintf(`{%q:[%s]}`, exchangeSegment, securityID)

	body, err := c.post(ctx, c.formURL(quotePath), payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrQuoteUnavailable, err)
	}

	last := gjson.GetBytes(body, fmt.Sprintf("data.%s.%s.last_price", exchangeSegment, securityID))
	if !last.Exists() {
		return 0, fmt.Errorf("%w: no last price for %s in %s", shared.ErrQuoteUnavailable,
			securityID, exchangeSegment)
	}

	return last.Float(), nil
}

// ResolveOption returns the security id of the option contract matching the
// provided strike, expiry and type.
func (c *DhanClient) ResolveOption(ctx context.Context, underlyingID string, exchangeSegment string,
	expiry string, strike float64, optionType shared.OptionType) (string, error) {
	payload := fmt.Sprintf(`{"UnderlyingScrip":%s,"UnderlyingSeg":%q,"Expiry":%q}`,
		underlyingID, exchangeSegment, expiry)

	body, err := c.post(ctx, c.formURL(optionChainPath), payload)
	if err != nil {
		return "", err
	}

	var optionID string
	chain := gjson.GetBytes(body, "data.oc")
	chain.ForEach(func(strikeKey, value gjson.Result) bool {
		if strikeKey.Float() != strike {
			return true
		}

		leg := value.Get(strings.ToLower(optionType.String()))
		id := leg.Get("security_id")
		if id.Exists() {
			optionID = id.String()
			return false
		}

		return true
	})

	if optionID == "" {
		return "", fmt.Errorf("resolving %s %s %.0f %s: %w", underlyingID, expiry, strike,
			optionType.String(), shared.ErrNoContract)
	}

	return optionID, nil
}
