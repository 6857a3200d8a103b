package oracle

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ReportDomainV1 scopes report signatures to this engine so they cannot be
// replayed against unrelated deployments.
const ReportDomainV1 = "usnd/price-report/v1"

var (
	// ErrReportNil indicates the submission did not include a report payload.
	ErrReportNil = errors.New("usn: price report required")
	// ErrReportDomain indicates the report domain did not match the expected identifier.
	ErrReportDomain = errors.New("usn: price report domain invalid")
	// ErrSignerUnknown indicates the reporting provider has no registered signer.
	ErrSignerUnknown = errors.New("usn: price report signer unknown")
	// ErrSignatureInvalid indicates the signature could not be recovered or did
	// not match the registered signer.
	ErrSignatureInvalid = errors.New("usn: price report signature invalid")
)

// SignedReport is a price payload attested by an off-chain feeder.
type SignedReport struct {
	Domain    string    `json:"domain"`
	Provider  string    `json:"provider"`
	Data      PriceData `json:"data"`
	Signature []byte    `json:"signature"`
}

type reportAsset struct {
	AssetID    string
	Multiplier *big.Int
	Decimals   uint8
}

type reportPayload struct {
	Domain    string
	Provider  string
	Timestamp uint64
	Recency   uint64
	Assets    []reportAsset
}

// Hash returns the digest feeders sign: keccak256 over the RLP encoding of
// the canonicalised report body.
func (r *SignedReport) Hash() ([]byte, error) {
	if r == nil {
		return nil, ErrReportNil
	}
	payload := reportPayload{
		Domain:    strings.TrimSpace(r.Domain),
		Provider:  strings.ToLower(strings.TrimSpace(r.Provider)),
		Timestamp: r.Data.Timestamp,
		Recency:   r.Data.RecencyDuration,
	}
	for _, entry := range r.Data.Prices {
		asset := reportAsset{AssetID: strings.TrimSpace(entry.AssetID)}
		if entry.Price != nil {
			asset.Decimals = entry.Price.Decimals
			if entry.Price.Multiplier != nil {
				asset.Multiplier = entry.Price.Multiplier
			}
		}
		if asset.Multiplier == nil {
			asset.Multiplier = big.NewInt(0)
		}
		payload.Assets = append(payload.Assets, asset)
	}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Sign attaches a signature produced with the supplied feeder key.
func (r *SignedReport) Sign(key *ecdsa.PrivateKey) error {
	if r == nil {
		return ErrReportNil
	}
	if key == nil {
		return fmt.Errorf("usn: signing key required")
	}
	hash, err := r.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Verifier checks that price reports originate from registered feeders.
type Verifier struct {
	mu      sync.RWMutex
	signers map[string]ethcommon.Address
}

// NewVerifier constructs an empty verifier.
func NewVerifier() *Verifier {
	return &Verifier{signers: make(map[string]ethcommon.Address)}
}

// RegisterSigner binds a provider identifier to the feeder address allowed to
// sign its reports.
func (v *Verifier) RegisterSigner(provider string, signer ethcommon.Address) {
	if v == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	if trimmed == "" {
		return
	}
	v.mu.Lock()
	v.signers[trimmed] = signer
	v.mu.Unlock()
}

// Verify validates the report signature against the registered feeder set.
func (v *Verifier) Verify(report *SignedReport) error {
	if v == nil {
		return fmt.Errorf("usn: report verifier not configured")
	}
	if report == nil {
		return ErrReportNil
	}
	if !strings.EqualFold(strings.TrimSpace(report.Domain), ReportDomainV1) {
		return ErrReportDomain
	}
	provider := strings.ToLower(strings.TrimSpace(report.Provider))
	if provider == "" {
		return ErrSignerUnknown
	}
	v.mu.RLock()
	signer, ok := v.signers[provider]
	v.mu.RUnlock()
	if !ok {
		return ErrSignerUnknown
	}
	if len(report.Signature) != 65 {
		return ErrSignatureInvalid
	}
	hash, err := report.Hash()
	if err != nil {
		return err
	}
	pubKey, err := ethcrypto.SigToPub(hash, report.Signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	if ethcrypto.PubkeyToAddress(*pubKey) != signer {
		return ErrSignatureInvalid
	}
	return nil
}
