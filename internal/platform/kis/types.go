package kis

import (
	"encoding/json"
	"fmt"
)

// envelope is the common response wrapper returned by every authenticated
// REST endpoint. rt_cd "0" means success; anything else is a business
// rejection even when the HTTP status is 200.
type envelope struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// APIError is a business-level rejection reported inside a 200 response
// envelope (rt_cd != "0").
type APIError struct {
	TrID  string
	RtCd  string
	MsgCd string
	Msg   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kis: %s rejected (rt_cd=%s, msg_cd=%s): %s", e.TrID, e.RtCd, e.MsgCd, e.Msg)
}

// tokenResponse is the /oauth2/tokenP response body. On failure the gateway
// returns error_code / error_description instead of a token.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// approvalResponse is the /oauth2/Approval response body.
type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// quoteOutput is the bond asking-price ladder. All numeric fields arrive as
// strings.
type quoteOutput struct {
	AskPrice1 string `json:"bond_askp1"`
	AskPrice2 string `json:"bond_askp2"`
	AskPrice3 string `json:"bond_askp3"`
	AskPrice4 string `json:"bond_askp4"`
	AskPrice5 string `json:"bond_askp5"`
	BidPrice1 string `json:"bond_bidp1"`
	BidPrice2 string `json:"bond_bidp2"`
	BidPrice3 string `json:"bond_bidp3"`
	BidPrice4 string `json:"bond_bidp4"`
	BidPrice5 string `json:"bond_bidp5"`
	AskSize1  string `json:"askp_rsqn1"`
	AskSize2  string `json:"askp_rsqn2"`
	AskSize3  string `json:"askp_rsqn3"`
	AskSize4  string `json:"askp_rsqn4"`
	AskSize5  string `json:"askp_rsqn5"`
	BidSize1  string `json:"bidp_rsqn1"`
	BidSize2  string `json:"bidp_rsqn2"`
	BidSize3  string `json:"bidp_rsqn3"`
	BidSize4  string `json:"bidp_rsqn4"`
	BidSize5  string `json:"bidp_rsqn5"`
}

// issueInfoOutput is the bond issue master record (subset of fields).
type issueInfoOutput struct {
	Symbol       string `json:"pdno"`
	Name         string `json:"prdt_name"`
	BondClsCode  string `json:"bond_clsf_cd"`
	IssueDate    string `json:"isu_dt"`
	MaturityDate string `json:"expd_dt"`
	CouponRate   string `json:"srfc_inrt"`
	IntPayCycle  string `json:"int_pay_mcnt"`
}

// balanceRow is one position row in the bond balance response.
type balanceRow struct {
	Symbol       string `json:"pdno"`
	Name         string `json:"prdt_name"`
	BalanceQty   string `json:"cblc_qty"`
	OrderableQty string `json:"ord_psbl_qty"`
	BuyDate      string `json:"buy_dt"`
}

// openOrderRow is one row in the revisable-orders response.
type openOrderRow struct {
	OrderNo      string `json:"odno"`
	Symbol       string `json:"pdno"`
	Name         string `json:"prdt_name"`
	OrderQty     string `json:"ord_qty"`
	OrderPrice   string `json:"bond_ord_unpr"`
	OrderTime    string `json:"ord_tmd"`
	FilledQty    string `json:"tot_ccld_qty"`
	RemainingQty string `json:"ord_psbl_qty"`
}

// orderAckOutput is the acknowledgement returned by order placement and
// revise/cancel requests.
type orderAckOutput struct {
	OrderNo   string `json:"ODNO"`
	OrderTime string `json:"ORD_TMD"`
}

// OrderAck is the normalised order acknowledgement returned to callers.
type OrderAck struct {
	OrderNo   string
	OrderTime string
	RtCd      string
	Msg       string
}

// IssueInfo describes a bond issue.
type IssueInfo struct {
	Symbol       string
	Name         string
	IssueDate    string
	MaturityDate string
	CouponRate   float64
	IntPayCycle  int
}

// wsRequest is the subscription request sent over the streaming connection.
type wsRequest struct {
	Header wsRequestHeader `json:"header"`
	Body   wsRequestBody   `json:"body"`
}

type wsRequestHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"` // "1" subscribe, "2" unsubscribe
	ContentType string `json:"content-type"`
}

type wsRequestBody struct {
	Input wsRequestInput `json:"input"`
}

type wsRequestInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

// wsControlMessage is a JSON control frame received from the streaming
// gateway: subscription acks (carrying the notice decryption key/iv) and
// PINGPONG probes.
type wsControlMessage struct {
	Header struct {
		TrID     string `json:"tr_id"`
		TrKey    string `json:"tr_key"`
		Datetime string `json:"datetime"`
		Encrypt  string `json:"encrypt"`
	} `json:"header"`
	Body struct {
		RtCd   string `json:"rt_cd"`
		MsgCd  string `json:"msg_cd"`
		Msg1   string `json:"msg1"`
		Output struct {
			Key string `json:"key"`
			IV  string `json:"iv"`
		} `json:"output"`
	} `json:"body"`
}
