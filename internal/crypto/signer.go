package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 of the canonical EIP-712 type strings. The
// voucher type string must match the custody bridge's verifier contract
// byte for byte.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ClaimVoucher(string claimId,string marketId,address owner,uint256 lpAmount,uint256 assetOut,uint256 stableOut,uint256 issuedAt)
	claimVoucherTypeHash = ethcrypto.Keccak256(
		[]byte("ClaimVoucher(string claimId,string marketId,address owner,uint256 lpAmount,uint256 assetOut,uint256 stableOut,uint256 issuedAt)"),
	)
)

// voucherDomainName and voucherDomainVersion identify the venue's EIP-712
// domain. Custody bridges verifying vouchers must use the same values.
const (
	voucherDomainName    = "FutarchyVenue"
	voucherDomainVersion = "1"
)

// VoucherPayload carries the fields of a withdrawal claim voucher that are
// signed via EIP-712. String types are used for IDs and large numbers to
// preserve precision across JSON boundaries; amounts are decimal uint256.
type VoucherPayload struct {
	ClaimID   string `json:"claimId"`
	MarketID  string `json:"marketId"`
	Owner     string `json:"owner"`
	LPAmount  string `json:"lpAmount"`
	AssetOut  string `json:"assetOut"`
	StableOut string `json:"stableOut"`
	IssuedAt  string `json:"issuedAt"` // Unix seconds, decimal
}

// Signer produces EIP-712 claim voucher signatures with a secp256k1 key.
// A voucher lets a claim holder redeem the quoted amounts against the
// custody bridge without the venue being online.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID the custody bridge verifies against.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignVoucher signs a claim voucher and returns the hex-encoded 65-byte
// signature (r || s || v) with a 0x prefix.
func (s *Signer) SignVoucher(v VoucherPayload) (string, error) {
	structHash, err := voucherStructHash(v)
	if err != nil {
		return "", err
	}

	sig, err := ethcrypto.Sign(eip712Digest(s.domainSep, structHash), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum yields v in {0,1}; vouchers carry v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverVoucherSigner recovers the address that signed a claim voucher.
// The chainID must match the one the voucher was signed under.
func RecoverVoucherSigner(v VoucherPayload, sigHex string, chainID int64) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Undo the voucher v convention for SigToPub, without mutating the
	// caller's bytes.
	recSig := append([]byte(nil), sig...)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	structHash, err := voucherStructHash(v)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := ethcrypto.SigToPub(eip712Digest(domainSeparator(chainID), structHash), recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// domainSeparator hashes the venue's EIP-712 domain for one chain.
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(voucherDomainName)),
		ethcrypto.Keccak256([]byte(voucherDomainVersion)),
		common.BigToHash(big.NewInt(chainID)).Bytes(),
	)
}

// eip712Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Digest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// voucherStructHash encodes and hashes a VoucherPayload per EIP-712:
// strings as keccak256 of their UTF-8 bytes, the owner address and the
// uint256 amounts as 32-byte words.
func voucherStructHash(v VoucherPayload) ([]byte, error) {
	words := [][]byte{
		claimVoucherTypeHash,
		ethcrypto.Keccak256([]byte(v.ClaimID)),
		ethcrypto.Keccak256([]byte(v.MarketID)),
		common.BytesToHash(common.HexToAddress(v.Owner).Bytes()).Bytes(),
	}

	for _, f := range []struct{ name, value string }{
		{"lpAmount", v.LPAmount},
		{"assetOut", v.AssetOut},
		{"stableOut", v.StableOut},
		{"issuedAt", v.IssuedAt},
	} {
		word, err := uintWord(f.name, f.value)
		if err != nil {
			return nil, err
		}
		words = append(words, word)
	}

	return ethcrypto.Keccak256(words...), nil
}

// uintWord parses a decimal uint256 and returns its 32-byte big-endian
// encoding. The field name lands in the error, which is what the API
// reports back for a malformed claim.
func uintWord(field, value string) ([]byte, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("crypto/signer: invalid %s %q", field, value)
	}
	return common.BigToHash(n).Bytes(), nil
}
