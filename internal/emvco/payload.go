// Package emvco renders EMVCo-style TLV payment payloads. Encoding is a pure
// function of its input: signature verification at confirm time depends on the
// original bytes, so the payload must never be re-derived differently.
package emvco

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	tagPayloadFormat    = "00"
	tagInitiationMethod = "01"
	tagCategoryCode     = "52"
	tagCurrencyCode     = "53"
	tagAmount           = "54"
	tagMerchantName     = "59"
	tagAdditionalData   = "62"
	tagCRC              = "63"

	subTagRef      = "01"
	subTagTxID     = "05"
	subTagSequence = "07"
	subTagExpiry   = "99"

	payloadFormatValue = "01"
	initiationDynamic  = "12"
	currencyIDR        = "360"

	// DefaultCategoryCode is the merchant category used when the tenant has
	// none configured (5311, department stores).
	DefaultCategoryCode = "5311"

	maxMerchantNameLen = 25

	// maxValueLen is the largest value a single TLV can carry: the length
	// field is exactly two digits.
	maxValueLen = 99
)

// Payment carries the public transaction attributes that end up inside the QR.
type Payment struct {
	TransactionID string
	Ref           string
	SequenceNo    int64
	MerchantName  string
	CategoryCode  string
	AmountMinor   int64
	ExpiresAt     time.Time
}

// Encode builds the TLV payload and appends the CRC16 trailer. Tags are
// concatenated in ascending lexical tag order; empty values omit the whole
// tag. A value that does not fit a two-digit length field (notably a long ref
// pushing the additional-data composite past 99 bytes) cannot be represented
// and is reported as an error rather than emitted malformed.
func Encode(p Payment) (string, error) {
	category := p.CategoryCode
	if category == "" {
		category = DefaultCategoryCode
	}
	for len(category) < 4 {
		category = "0" + category
	}

	merchant := []rune(p.MerchantName)
	if len(merchant) > maxMerchantNameLen {
		merchant = merchant[:maxMerchantNameLen]
	}

	extra, err := additionalData(p)
	if err != nil {
		return "", err
	}

	fields := map[string]string{
		tagPayloadFormat:    payloadFormatValue,
		tagInitiationMethod: initiationDynamic,
		tagCategoryCode:     category,
		tagCurrencyCode:     currencyIDR,
		tagAmount:           formatAmount(p.AmountMinor),
		tagMerchantName:     string(merchant),
		tagAdditionalData:   extra,
	}

	tags := make([]string, 0, len(fields))
	for tag := range fields {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var b strings.Builder
	for _, tag := range tags {
		if err := writeTLV(&b, tag, fields[tag]); err != nil {
			return "", err
		}
	}

	// Trailer declares a 4-char checksum; the CRC covers everything built so
	// far including the trailer declaration itself.
	b.WriteString(tagCRC + "04")
	return b.String() + fmt.Sprintf("%04X", Checksum(b.String())), nil
}

func additionalData(p Payment) (string, error) {
	var b strings.Builder
	if err := writeTLV(&b, subTagRef, p.Ref); err != nil {
		return "", err
	}
	if err := writeTLV(&b, subTagTxID, p.TransactionID); err != nil {
		return "", err
	}
	if err := writeTLV(&b, subTagSequence, strconv.FormatInt(p.SequenceNo, 10)); err != nil {
		return "", err
	}
	if err := writeTLV(&b, subTagExpiry, strconv.FormatInt(p.ExpiresAt.Unix(), 10)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeTLV(b *strings.Builder, tag, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("tag %s value is %d bytes, exceeds %d", tag, len(value), maxValueLen)
	}
	b.WriteString(tag)
	b.WriteString(fmt.Sprintf("%02d", len(value)))
	b.WriteString(value)
	return nil
}

func formatAmount(minor int64) string {
	intPart := minor / 100
	decPart := minor % 100
	return strconv.FormatInt(intPart, 10) + "." + fmt.Sprintf("%02d", decPart)
}
