package kis

// Transaction ids for the REST endpoints the client calls. Each REST request
// carries its id in the tr_id header.
const (
	trQuote     = "FHKBJ773401C0" // bond asking-price ladder
	trIssueInfo = "CTPF1101R"     // bond issue master info
	trBalance   = "CTSC8407R"     // account bond balance
	trOrders    = "CTSC8035R"     // revisable (open) bond orders
	trBuy       = "TTTC0952U"     // bond limit buy
	trRevCancel = "TTTC0953U"     // bond order revise / cancel
)

// Transaction ids for streaming subscriptions.
const (
	// TrStreamQuote is the real-time bond asking-price feed.
	TrStreamQuote = "H0BJASP0"
	// TrStreamTick is the real-time bond execution (tick) feed.
	TrStreamTick = "H0BJCNT0"
	// trNoticeLive is the encrypted execution-notice feed on the live
	// environment; trNoticePaper is its paper-trading counterpart.
	trNoticeLive  = "H0STCNI0"
	trNoticePaper = "H0STCNI9"
)

// Environment selects between the live and paper (mock) trading systems.
// The two run on different endpoints and use different execution-notice
// feed ids.
type Environment string

const (
	EnvLive  Environment = "live"
	EnvPaper Environment = "paper"
)

// BaseURL returns the REST API root for the environment.
func (e Environment) BaseURL() string {
	if e == EnvPaper {
		return "https://openapivts.koreainvestment.com:29443"
	}
	return "https://openapi.koreainvestment.com:9443"
}

// WSURL returns the streaming endpoint for the environment.
func (e Environment) WSURL() string {
	if e == EnvPaper {
		return "ws://ops.koreainvestment.com:31000"
	}
	return "ws://ops.koreainvestment.com:21000"
}

// NoticeTrID returns the execution-notice subscription id for the
// environment.
func (e Environment) NoticeTrID() string {
	if e == EnvPaper {
		return trNoticePaper
	}
	return trNoticeLive
}
