package positions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// UniqueKey derives the stable identity of a position across re-imports.
//
// Priority order:
//  1. ISIN present: bank|portfolio|isin
//  2. custodian position number: bank|portfolio|positionNumber (cash lines)
//  3. instrument code: bank|portfolio|instrumentCode|currency
//  4. fixed fallback: bank|portfolio|unidentified
//
// The fallback is a known-degenerate case: multiple unidentifiable lines in
// the same portfolio collapse to one key. Callers log when it is hit.
func UniqueKey(bankID, portfolioCode, isin, positionNumber, instrumentCode, currency string) string {
	bank := normalizeKeyPart(bankID)
	portfolio := normalizeKeyPart(portfolioCode)

	switch {
	case normalizeKeyPart(isin) != "":
		return hashKey(bank, portfolio, normalizeKeyPart(isin))
	case normalizeKeyPart(positionNumber) != "":
		return hashKey(bank, portfolio, normalizeKeyPart(positionNumber))
	case normalizeKeyPart(instrumentCode) != "":
		return hashKey(bank, portfolio, normalizeKeyPart(instrumentCode), normalizeKeyPart(currency))
	default:
		return hashKey(bank, portfolio, "unidentified")
	}
}

// IsFallbackKey reports whether the key was produced by the degenerate
// fallback branch for the given (bank, portfolio).
func IsFallbackKey(key, bankID, portfolioCode string) bool {
	return key == hashKey(normalizeKeyPart(bankID), normalizeKeyPart(portfolioCode), "unidentified")
}

func normalizeKeyPart(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
