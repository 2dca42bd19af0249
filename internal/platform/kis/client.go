// Package kis implements the REST and streaming clients for the Korea
// Investment & Securities open trading API.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

// TokenSource supplies a valid access token for authenticated REST calls.
// The session manager implements this on top of Client's unauthenticated
// token issuance endpoints.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ClientConfig holds the static identity of a REST client.
type ClientConfig struct {
	Env       Environment
	AppKey    string
	AppSecret string
	// AccountNo is the full 10-digit account number: 8-digit account
	// followed by the 2-digit product code.
	AccountNo string
	CustType  string
}

// Client is the REST client for the KIS open API.
type Client struct {
	cfg        ClientConfig
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates a new REST client. Authenticated calls fail until a
// TokenSource is attached with SetTokenSource.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: cfg.Env.BaseURL(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTokenSource attaches the token source used for authenticated calls.
// Set once during wiring, before any authenticated call is made.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// accountParts splits the configured account number into the 8-digit
// account and 2-digit product code.
func (c *Client) accountParts() (cano, prdtCd string) {
	return c.cfg.AccountNo[:8], c.cfg.AccountNo[8:]
}

// --------------------------------------------------------------------------
// Credential issuance (unauthenticated)
// --------------------------------------------------------------------------

// IssueToken requests a new access token from the OAuth gateway. The
// returned expiry is computed from the gateway's expires_in. The gateway
// enforces a one-issuance-per-minute limit per app key; violations map to
// domain.ErrRateLimited.
func (c *Client) IssueToken(ctx context.Context) (token string, expiresAt time.Time, err error) {
	reqBody := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}

	body, err := c.doBare(ctx, http.MethodPost, "/oauth2/tokenP", reqBody)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("kis: issue token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", time.Time{}, fmt.Errorf("kis: decode token response: %w", err)
	}

	if resp.AccessToken == "" {
		if resp.ErrorCode == "EGW00133" {
			return "", time.Time{}, fmt.Errorf("kis: issue token: %s: %w", resp.ErrorDescription, domain.ErrRateLimited)
		}
		return "", time.Time{}, fmt.Errorf("kis: issue token: %s (%s): %w", resp.ErrorDescription, resp.ErrorCode, domain.ErrUnauthorized)
	}

	return resp.AccessToken, time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// IssueApprovalKey requests a streaming approval key from the OAuth gateway.
func (c *Client) IssueApprovalKey(ctx context.Context) (string, error) {
	reqBody := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	}

	body, err := c.doBare(ctx, http.MethodPost, "/oauth2/Approval", reqBody)
	if err != nil {
		return "", fmt.Errorf("kis: issue approval key: %w", err)
	}

	var resp approvalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kis: decode approval response: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("kis: issue approval key: empty key in response: %w", domain.ErrUnauthorized)
	}

	return resp.ApprovalKey, nil
}

// --------------------------------------------------------------------------
// Market data
// --------------------------------------------------------------------------

// Quote fetches the current asking-price ladder for a bond.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "B")
	params.Set("FID_INPUT_ISCD", symbol)

	env, err := c.doAuthed(ctx, http.MethodGet, "/uapi/domestic-bond/v1/quotations/inquire-asking-price", trQuote, params, nil)
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("kis: quote %s: %w", symbol, err)
	}

	var out quoteOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("kis: decode quote: %w", err)
	}

	return quoteToSnapshot(symbol, out), nil
}

// quoteToSnapshot converts the string-typed ladder into a QuoteSnapshot,
// dropping empty or zero-priced levels.
func quoteToSnapshot(symbol string, out quoteOutput) domain.QuoteSnapshot {
	snap := domain.QuoteSnapshot{Symbol: symbol, ObservedAt: time.Now()}

	askPrices := []string{out.AskPrice1, out.AskPrice2, out.AskPrice3, out.AskPrice4, out.AskPrice5}
	askSizes := []string{out.AskSize1, out.AskSize2, out.AskSize3, out.AskSize4, out.AskSize5}
	bidPrices := []string{out.BidPrice1, out.BidPrice2, out.BidPrice3, out.BidPrice4, out.BidPrice5}
	bidSizes := []string{out.BidSize1, out.BidSize2, out.BidSize3, out.BidSize4, out.BidSize5}

	for i := range askPrices {
		if lvl, ok := parseLevel(askPrices[i], askSizes[i]); ok {
			snap.Asks = append(snap.Asks, lvl)
		}
	}
	for i := range bidPrices {
		if lvl, ok := parseLevel(bidPrices[i], bidSizes[i]); ok {
			snap.Bids = append(snap.Bids, lvl)
		}
	}

	return snap
}

func parseLevel(price, size string) (domain.PriceLevel, bool) {
	p := parseFloat(price)
	if p <= 0 {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: p, Size: parseInt(size)}, true
}

// IssueInfo fetches the master record for a bond issue.
func (c *Client) IssueInfo(ctx context.Context, symbol string) (IssueInfo, error) {
	params := url.Values{}
	params.Set("PDNO", symbol)
	params.Set("PRDT_TYPE_CD", "302")

	env, err := c.doAuthed(ctx, http.MethodGet, "/uapi/domestic-bond/v1/quotations/issue-info", trIssueInfo, params, nil)
	if err != nil {
		return IssueInfo{}, fmt.Errorf("kis: issue info %s: %w", symbol, err)
	}

	var out issueInfoOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return IssueInfo{}, fmt.Errorf("kis: decode issue info: %w", err)
	}

	return IssueInfo{
		Symbol:       out.Symbol,
		Name:         out.Name,
		IssueDate:    out.IssueDate,
		MaturityDate: out.MaturityDate,
		CouponRate:   parseFloat(out.CouponRate),
		IntPayCycle:  int(parseInt(out.IntPayCycle)),
	}, nil
}

// --------------------------------------------------------------------------
// Account state
// --------------------------------------------------------------------------

// Balance fetches the bond positions held in the configured account.
func (c *Client) Balance(ctx context.Context) ([]domain.Position, error) {
	cano, prdtCd := c.accountParts()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdtCd)
	params.Set("INQR_CNDT", "00")
	params.Set("PDNO", "")
	params.Set("BUY_DT", "")
	params.Set("CTX_AREA_FK200", "")
	params.Set("CTX_AREA_NK200", "")

	env, err := c.doAuthed(ctx, http.MethodGet, "/uapi/domestic-bond/v1/trading/inquire-balance", trBalance, params, nil)
	if err != nil {
		return nil, fmt.Errorf("kis: balance: %w", err)
	}

	var rows []balanceRow
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("kis: decode balance: %w", err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, domain.Position{
			Symbol:       r.Symbol,
			Name:         strings.TrimSpace(r.Name),
			Quantity:     parseInt(r.BalanceQty),
			OrderableQty: parseInt(r.OrderableQty),
			BuyDate:      r.BuyDate,
		})
	}

	return positions, nil
}

// RevisableOrders fetches the open (revisable or cancellable) bond orders
// for the configured account.
func (c *Client) RevisableOrders(ctx context.Context) ([]domain.RestingOrder, error) {
	cano, prdtCd := c.accountParts()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdtCd)
	params.Set("ORD_DT", "")
	params.Set("ODNO", "")
	params.Set("CTX_AREA_FK200", "")
	params.Set("CTX_AREA_NK200", "")

	env, err := c.doAuthed(ctx, http.MethodGet, "/uapi/domestic-bond/v1/trading/inquire-psbl-rvsecncl", trOrders, params, nil)
	if err != nil {
		return nil, fmt.Errorf("kis: revisable orders: %w", err)
	}

	var rows []openOrderRow
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, fmt.Errorf("kis: decode revisable orders: %w", err)
	}

	orders := make([]domain.RestingOrder, 0, len(rows))
	for _, r := range rows {
		qty := parseInt(r.OrderQty)
		filled := parseInt(r.FilledQty)
		orders = append(orders, domain.RestingOrder{
			OrderNo:      r.OrderNo,
			Symbol:       r.Symbol,
			Side:         domain.OrderSideBuy,
			Quantity:     qty,
			Price:        parseFloat(r.OrderPrice),
			FilledQty:    filled,
			RemainingQty: parseInt(r.RemainingQty),
			State:        domain.OrderStateWorking,
		})
	}

	return orders, nil
}

// --------------------------------------------------------------------------
// Order mutations
// --------------------------------------------------------------------------

// PlaceBuy submits a limit buy order.
func (c *Client) PlaceBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	cano, prdtCd := c.accountParts()
	reqBody := map[string]string{
		"CANO":              cano,
		"ACNT_PRDT_CD":      prdtCd,
		"PDNO":              symbol,
		"ORD_QTY2":          strconv.FormatInt(qty, 10),
		"BOND_ORD_UNPR":     formatPrice(price),
		"SAMT_MKET_PTCI_YN": "N",
		"BOND_RTL_MKET_YN":  "N",
		"IDCR_STFNO":        "",
		"MGCO_APTM_ODNO":    "",
		"ORD_SVR_DVSN_CD":   "0",
		"CTAC_TLNO":         "",
	}

	env, err := c.doAuthed(ctx, http.MethodPost, "/uapi/domestic-bond/v1/trading/buy", trBuy, nil, reqBody)
	if err != nil {
		return OrderAck{}, fmt.Errorf("kis: place buy %s: %w", symbol, err)
	}

	return decodeAck(env)
}

// ReviseOrder changes the price of a resting order, keeping its full
// remaining quantity.
func (c *Client) ReviseOrder(ctx context.Context, symbol, orderNo string, price float64) (OrderAck, error) {
	ack, err := c.reviseCancel(ctx, symbol, orderNo, "01", formatPrice(price))
	if err != nil {
		return OrderAck{}, fmt.Errorf("kis: revise order %s: %w", orderNo, err)
	}
	return ack, nil
}

// CancelOrder cancels a resting order in full.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderNo string) (OrderAck, error) {
	ack, err := c.reviseCancel(ctx, symbol, orderNo, "02", "0")
	if err != nil {
		return OrderAck{}, fmt.Errorf("kis: cancel order %s: %w", orderNo, err)
	}
	return ack, nil
}

// reviseCancel issues the shared revise/cancel request. dvsn "01" revises,
// "02" cancels. Quantity "0" with QTY_ALL_ORD_YN "Y" applies to the whole
// remaining quantity.
func (c *Client) reviseCancel(ctx context.Context, symbol, orderNo, dvsn, price string) (OrderAck, error) {
	cano, prdtCd := c.accountParts()
	reqBody := map[string]string{
		"CANO":              cano,
		"ACNT_PRDT_CD":      prdtCd,
		"PDNO":              symbol,
		"ORGN_ODNO":         orderNo,
		"RVSE_CNCL_DVSN_CD": dvsn,
		"ORD_QTY2":          "0",
		"BOND_ORD_UNPR":     price,
		"QTY_ALL_ORD_YN":    "Y",
		"ORD_SVR_DVSN_CD":   "0",
		"CTAC_TLNO":         "",
	}

	env, err := c.doAuthed(ctx, http.MethodPost, "/uapi/domestic-bond/v1/trading/order-rvsecncl", trRevCancel, nil, reqBody)
	if err != nil {
		return OrderAck{}, err
	}

	return decodeAck(env)
}

func decodeAck(env *envelope) (OrderAck, error) {
	var out orderAckOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return OrderAck{}, fmt.Errorf("kis: decode order ack: %w", err)
	}
	return OrderAck{
		OrderNo:   out.OrderNo,
		OrderTime: out.OrderTime,
		RtCd:      env.RtCd,
		Msg:       strings.TrimSpace(env.Msg1),
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doBare sends an unauthenticated JSON request and returns the raw body.
// Used only for the OAuth credential endpoints.
func (c *Client) doBare(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// The OAuth endpoints report failures in the JSON body, sometimes with
	// non-2xx statuses; let the caller interpret the payload when there is
	// one.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

// doAuthed sends an authenticated request against a transaction endpoint,
// checks both the HTTP status and the envelope rt_cd, and returns the
// decoded envelope.
func (c *Client) doAuthed(ctx context.Context, method, path, trID string, params url.Values, reqBody any) (*envelope, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("token source not configured: %w", domain.ErrUnauthorized)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", c.cfg.CustType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	// HTTP 200 with rt_cd != "0" is a business rejection.
	if env.RtCd != "0" {
		return nil, &APIError{TrID: trID, RtCd: env.RtCd, MsgCd: env.MsgCd, Msg: strings.TrimSpace(env.Msg1)}
	}

	return &env, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("http 404: %s: %w", truncate(body, 200), domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("http %d: %s: %w", statusCode, truncate(body, 200), domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("http 429: %s: %w", truncate(body, 200), domain.ErrRateLimited)
	default:
		return fmt.Errorf("http %d: %s", statusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// parseFloat parses a numeric API string, returning 0 for empty or
// malformed values.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt parses an integer API string, returning 0 for empty or
// malformed values.
func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// formatPrice renders a price the way the order endpoints expect, trimming
// a trailing ".0" style fraction when the price is whole.
func formatPrice(p float64) string {
	s := strconv.FormatFloat(p, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
