package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces EIP-191 personal signatures over request messages.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	publicKeyECDSA, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(*publicKeyECDSA)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns the 65-byte [R || S || V] signature over digest as hex, with V
// in {27, 28}.
func (s *Signer) Sign(digest common.Hash) (string, error) {
	signature, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", err
	}
	signature[64] += 27
	return hexutil.Encode(signature), nil
}

// SignRequest returns the headers for one request, including the
// idempotency key when req carries one.
func (s *Signer) SignRequest(req Request) (map[string]string, error) {
	sig, err := s.Sign(req.Digest())
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		HeaderIdentity:  s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(req.Timestamp, 10),
		HeaderSignature: sig,
	}
	if req.IdempotencyKey != "" {
		headers[HeaderIdempotencyKey] = req.IdempotencyKey
	}
	return headers, nil
}
