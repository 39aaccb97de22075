/**
 * @description
 * Per-currency address syntax validation. The validator is a pure predicate and is
 * called by the submitter before any ledger traffic so malformed input fails fast.
 *
 * @dependencies
 * - github.com/btcsuite/btcd/btcutil: decodes base58 and bech32/bech32m addresses.
 * - github.com/btcsuite/btcd/chaincfg: network parameters for the decode.
 * - github.com/ethereum/go-ethereum/common: hex parsing and EIP-55 checksum rendering.
 */

package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrUnknownNetwork  = errors.New("unknown bitcoin network")
	ErrUnsupportedType = errors.New("currency has no on-ledger addresses")
)

var (
	mainnetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{24,33}$`),
		regexp.MustCompile(`^bc1q[02-9ac-hj-np-z]{38,58}$`),
		regexp.MustCompile(`^bc1p[02-9ac-hj-np-z]{58}$`),
	}
	testnetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[mn2][a-km-zA-HJ-NP-Z1-9]{24,34}$`),
		regexp.MustCompile(`^tb1[qp][02-9ac-hj-np-z]{38,58}$`),
	}
	regtestPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[mn2][a-km-zA-HJ-NP-Z1-9]{24,34}$`),
		regexp.MustCompile(`^bcrt1[qp][02-9ac-hj-np-z]{38,58}$`),
	}

	numericPlaceholder = regexp.MustCompile(`^[0-9]+$`)
	ethereumPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Validator checks address syntax for one configured Bitcoin network.
type Validator struct {
	params   *chaincfg.Params
	patterns []*regexp.Regexp
}

// NewValidator builds a validator for the named Bitcoin network
// ("mainnet", "testnet"/"testnet3", "regtest", "signet").
func NewValidator(network string) (*Validator, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "", "mainnet", "main":
		return &Validator{params: &chaincfg.MainNetParams, patterns: mainnetPatterns}, nil
	case "testnet", "testnet3":
		return &Validator{params: &chaincfg.TestNet3Params, patterns: testnetPatterns}, nil
	case "signet":
		return &Validator{params: &chaincfg.SigNetParams, patterns: testnetPatterns}, nil
	case "regtest":
		return &Validator{params: &chaincfg.RegressionNetParams, patterns: regtestPatterns}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// Validate reports whether raw is a well-formed address for currency.
// Fiat has no on-ledger address and is always rejected.
func (v *Validator) Validate(currency domain.Currency, raw string) bool {
	switch currency {
	case domain.CurrencyBTC:
		return v.validBitcoin(raw)
	case domain.CurrencyETH:
		return validEthereum(raw)
	default:
		return false
	}
}

// ValidateTransfer checks both ends of a transfer and names the offending side.
func (v *Validator) ValidateTransfer(currency domain.Currency, from, to string) error {
	if !currency.IsCrypto() {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, currency)
	}
	if !v.Validate(currency, from) {
		return fmt.Errorf("%w: from address %q is not a valid %s address", ErrInvalidAddress, from, currency)
	}
	if !v.Validate(currency, to) {
		return fmt.Errorf("%w: to address %q is not a valid %s address", ErrInvalidAddress, to, currency)
	}
	return nil
}

func (v *Validator) validBitcoin(raw string) bool {
	// Test fixtures such as "btc_wallet_1" or "123456" must never reach the ledger.
	if strings.Contains(raw, "btc") || strings.Contains(raw, "BTC") {
		return false
	}
	if numericPlaceholder.MatchString(raw) {
		return false
	}

	matched := false
	for _, pattern := range v.patterns {
		if pattern.MatchString(raw) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	decoded, err := btcutil.DecodeAddress(raw, v.params)
	if err != nil {
		return false
	}
	return decoded.IsForNet(v.params)
}

func validEthereum(raw string) bool {
	if !ethereumPattern.MatchString(raw) || !common.IsHexAddress(raw) {
		return false
	}

	digits := raw[2:]
	if digits == strings.ToLower(digits) || digits == strings.ToUpper(digits) {
		return true
	}
	return common.HexToAddress(raw).Hex() == raw
}
