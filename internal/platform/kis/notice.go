package kis

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

// noticeFieldsMin is the minimum field count of a decrypted execution
// notice record.
const noticeFieldsMin = 23

// Execution-notice field offsets within the decrypted record.
const (
	noticeIdxAccount    = 1
	noticeIdxOrderNo    = 2
	noticeIdxOrigNo     = 3
	noticeIdxSide       = 4
	noticeIdxRevision   = 5
	noticeIdxSymbol     = 8
	noticeIdxFillQty    = 9
	noticeIdxFillPrice  = 10
	noticeIdxTime       = 11
	noticeIdxRejected   = 12
	noticeIdxAcceptOnly = 13
	noticeIdxOrderQty   = 16
	noticeIdxName       = 18
)

// DecryptNotice decodes and decrypts a single execution-notice payload.
// The payload is Base64-encoded AES-256-CBC ciphertext; the plaintext is a
// caret-delimited record.
func DecryptNotice(payload string, key, iv []byte) (domain.ExecutionNotice, error) {
	if len(key) != 32 || len(iv) != 16 {
		return domain.ExecutionNotice{}, fmt.Errorf("kis: key/iv not initialised: %w", domain.ErrKeyIVUnset)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.ExecutionNotice{}, fmt.Errorf("kis: notice base64: %v: %w", err, domain.ErrDecryptFailed)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return domain.ExecutionNotice{}, fmt.Errorf("kis: notice ciphertext length %d: %w", len(ciphertext), domain.ErrDecryptFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return domain.ExecutionNotice{}, fmt.Errorf("kis: notice cipher: %v: %w", err, domain.ErrDecryptFailed)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext)
	if err != nil {
		return domain.ExecutionNotice{}, err
	}

	return parseNotice(string(plaintext))
}

// pkcs7Unpad strips PKCS#7 padding from a decrypted block. Invalid padding
// almost always means the key or iv was wrong.
func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("kis: empty plaintext: %w", domain.ErrDecryptFailed)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("kis: bad padding length %d: %w", n, domain.ErrDecryptFailed)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("kis: inconsistent padding: %w", domain.ErrDecryptFailed)
		}
	}
	return b[:len(b)-n], nil
}

// parseNotice maps a caret-delimited notice record to an ExecutionNotice.
func parseNotice(record string) (domain.ExecutionNotice, error) {
	v := strings.Split(record, "^")
	if len(v) < noticeFieldsMin {
		return domain.ExecutionNotice{}, fmt.Errorf("kis: notice record has %d fields, want >= %d: %w",
			len(v), noticeFieldsMin, domain.ErrMalformedFrame)
	}

	side := domain.OrderSideSell
	if v[noticeIdxSide] == "02" {
		side = domain.OrderSideBuy
	}

	notice := domain.ExecutionNotice{
		AccountNo:   v[noticeIdxAccount],
		OrderNo:     v[noticeIdxOrderNo],
		OrigOrderNo: v[noticeIdxOrigNo],
		Symbol:      v[noticeIdxSymbol],
		SymbolName:  strings.TrimSpace(v[noticeIdxName]),
		Side:        side,
		IsRevision:  v[noticeIdxRevision] != "0",
		IsRejected:  v[noticeIdxRejected] != "0",
		EventTime:   v[noticeIdxTime],
		OrderQty:    parseInt(v[noticeIdxOrderQty]),
		ReceivedAt:  time.Now(),
	}

	// A record flagged as acceptance-only confirms the order reached the
	// book without any execution; its quantity and price fields describe
	// the order, not a fill.
	if v[noticeIdxAcceptOnly] != "1" {
		notice.FillQty = parseInt(v[noticeIdxFillQty])
		notice.FillPrice = parseFloat(v[noticeIdxFillPrice])
	}

	return notice, nil
}
