package kis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

// FrameKind classifies a raw streaming frame by its leading byte: '0' is a
// plaintext data frame, '1' an encrypted data frame, anything else a JSON
// control message.
type FrameKind int

const (
	FramePlain FrameKind = iota
	FrameEncrypted
	FrameControl
)

// Frame is a classified streaming frame. For data frames TrID, RecordCount
// and Payload are populated; for control frames Raw holds the JSON body.
type Frame struct {
	Kind        FrameKind
	TrID        string
	RecordCount int
	Payload     string
	Raw         []byte
}

// Classify splits a raw streaming message into a Frame. Data frames are
// pipe-delimited with exactly four segments: marker, tr_id, record count,
// payload.
func Classify(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("kis: empty frame: %w", domain.ErrMalformedFrame)
	}

	marker := raw[0]
	if marker != '0' && marker != '1' {
		return Frame{Kind: FrameControl, Raw: raw}, nil
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return Frame{}, fmt.Errorf("kis: data frame has %d segments, want 4: %w", len(parts), domain.ErrMalformedFrame)
	}

	count := int(parseInt(parts[2]))
	if count < 1 {
		return Frame{}, fmt.Errorf("kis: data frame record count %q: %w", parts[2], domain.ErrMalformedFrame)
	}

	kind := FramePlain
	if marker == '1' {
		kind = FrameEncrypted
	}

	return Frame{
		Kind:        kind,
		TrID:        parts[1],
		RecordCount: count,
		Payload:     parts[3],
	}, nil
}

// Minimum field counts per record for the plaintext feeds.
const (
	quoteFieldsMin = 43
	tickFieldsMin  = 13
)

// Quote ladder field offsets within one record. Level i (1-based) of each
// side lives at base+i.
const (
	quoteAskPriceBase = 2
	quoteBidPriceBase = 12
	quoteAskSizeBase  = 22
	quoteBidSizeBase  = 32
	quoteDepth        = 5
)

// ParseQuote decodes one asking-price record into a QuoteSnapshot with the
// top five levels per side.
func ParseQuote(values []string) (domain.QuoteSnapshot, error) {
	if len(values) < quoteFieldsMin {
		return domain.QuoteSnapshot{}, fmt.Errorf("kis: quote record has %d fields, want >= %d: %w",
			len(values), quoteFieldsMin, domain.ErrMalformedFrame)
	}

	snap := domain.QuoteSnapshot{
		Symbol:     values[0],
		ObservedAt: time.Now(),
	}

	for i := 1; i <= quoteDepth; i++ {
		if lvl, ok := parseLevel(values[quoteAskPriceBase+i], values[quoteAskSizeBase+i]); ok {
			snap.Asks = append(snap.Asks, lvl)
		}
		if lvl, ok := parseLevel(values[quoteBidPriceBase+i], values[quoteBidSizeBase+i]); ok {
			snap.Bids = append(snap.Bids, lvl)
		}
	}

	return snap, nil
}

// ParseTick decodes one execution record into a Tick.
func ParseTick(values []string) (domain.Tick, error) {
	if len(values) < tickFieldsMin {
		return domain.Tick{}, fmt.Errorf("kis: tick record has %d fields, want >= %d: %w",
			len(values), tickFieldsMin, domain.ErrMalformedFrame)
	}

	return domain.Tick{
		Symbol:     values[0],
		TradedAt:   values[1],
		Price:      parseFloat(values[2]),
		Volume:     parseInt(values[12]),
		ObservedAt: time.Now(),
	}, nil
}

// Event is the decoded result of one streaming frame. Exactly one of the
// pointer fields is set, except Pong which carries the raw bytes to echo.
type Event struct {
	Quotes  []domain.QuoteSnapshot
	Ticks   []domain.Tick
	Notices []domain.ExecutionNotice
	Pong    []byte
	Ack     *SubscribeAck
}

// SubscribeAck reports the outcome of a subscription request.
type SubscribeAck struct {
	TrID  string
	TrKey string
	RtCd  string
	Msg   string
}

// Decoder turns raw streaming frames into Events. It caches the AES key and
// iv delivered in the execution-notice subscription ack, and drops notices
// for other accounts.
type Decoder struct {
	accountNo string
	key       []byte
	iv        []byte
}

// NewDecoder creates a decoder that keeps only execution notices whose
// account matches the first eight digits of accountNo.
func NewDecoder(accountNo string) *Decoder {
	return &Decoder{accountNo: accountNo}
}

// SetKeyIV installs the AES-256-CBC key and iv used to decrypt execution
// notices. Normally called internally when the subscription ack arrives,
// exposed for reconnect flows that replay a cached ack.
func (d *Decoder) SetKeyIV(key, iv string) error {
	if len(key) != 32 {
		return fmt.Errorf("kis: aes key length %d, want 32: %w", len(key), domain.ErrKeyIVUnset)
	}
	if len(iv) != 16 {
		return fmt.Errorf("kis: aes iv length %d, want 16: %w", len(iv), domain.ErrKeyIVUnset)
	}
	d.key = []byte(key)
	d.iv = []byte(iv)
	return nil
}

// Decode processes one raw frame. Malformed frames and undecryptable
// notices return an error; the caller decides whether to drop or abort.
func (d *Decoder) Decode(raw []byte) (Event, error) {
	frame, err := Classify(raw)
	if err != nil {
		return Event{}, err
	}

	switch frame.Kind {
	case FramePlain:
		return d.decodePlain(frame)
	case FrameEncrypted:
		return d.decodeEncrypted(frame)
	default:
		return d.decodeControl(frame)
	}
}

// decodePlain splits the payload into per-record chunks and parses each
// according to the frame's tr_id. Unknown feed ids yield an empty event.
func (d *Decoder) decodePlain(frame Frame) (Event, error) {
	values := strings.Split(frame.Payload, "^")
	recordLen := len(values) / frame.RecordCount
	if recordLen == 0 || len(values)%frame.RecordCount != 0 {
		return Event{}, fmt.Errorf("kis: %s payload has %d fields for %d records: %w",
			frame.TrID, len(values), frame.RecordCount, domain.ErrMalformedFrame)
	}

	var ev Event
	for i := 0; i < frame.RecordCount; i++ {
		record := values[i*recordLen : (i+1)*recordLen]

		switch frame.TrID {
		case TrStreamQuote:
			snap, err := ParseQuote(record)
			if err != nil {
				return Event{}, err
			}
			ev.Quotes = append(ev.Quotes, snap)
		case TrStreamTick:
			tick, err := ParseTick(record)
			if err != nil {
				return Event{}, err
			}
			ev.Ticks = append(ev.Ticks, tick)
		}
	}

	return ev, nil
}

// decodeEncrypted decrypts an execution-notice frame and filters by
// account.
func (d *Decoder) decodeEncrypted(frame Frame) (Event, error) {
	if d.key == nil || d.iv == nil {
		return Event{}, fmt.Errorf("kis: encrypted frame before key delivery: %w", domain.ErrKeyIVUnset)
	}

	notice, err := DecryptNotice(frame.Payload, d.key, d.iv)
	if err != nil {
		return Event{}, err
	}

	// Notices for other accounts on the same app key are dropped. The feed
	// carries either the 8-digit account or the full 10-digit number, so
	// only the first eight digits are compared.
	if len(d.accountNo) >= 8 && !strings.HasPrefix(notice.AccountNo, d.accountNo[:8]) {
		return Event{}, nil
	}

	return Event{Notices: []domain.ExecutionNotice{notice}}, nil
}

// decodeControl handles JSON control frames: PINGPONG probes and
// subscription acks. The notice subscription ack carries the AES key/iv.
func (d *Decoder) decodeControl(frame Frame) (Event, error) {
	var msg wsControlMessage
	if err := json.Unmarshal(frame.Raw, &msg); err != nil {
		return Event{}, fmt.Errorf("kis: decode control frame: %w", domain.ErrMalformedFrame)
	}

	if msg.Header.TrID == "PINGPONG" {
		// The gateway expects the probe echoed byte for byte.
		return Event{Pong: frame.Raw}, nil
	}

	if msg.Body.Output.Key != "" {
		if err := d.SetKeyIV(msg.Body.Output.Key, msg.Body.Output.IV); err != nil {
			return Event{}, err
		}
	}

	return Event{Ack: &SubscribeAck{
		TrID:  msg.Header.TrID,
		TrKey: msg.Header.TrKey,
		RtCd:  msg.Body.RtCd,
		Msg:   msg.Body.Msg1,
	}}, nil
}
