package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Recover returns the address that produced a signature over digest. Only
// canonical signatures are accepted: V in {0, 1, 27, 28} and low S.
func Recover(digest common.Hash, signature string) (common.Address, error) {
	if signature == "" {
		return common.Address{}, fmt.Errorf("signature is required")
	}
	rawSig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding")
	}
	if len(rawSig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length")
	}
	// Normalize V to 0/1 for recovery.
	if rawSig[64] >= 27 {
		rawSig[64] -= 27
	}
	r, s := new(big.Int).SetBytes(rawSig[:32]), new(big.Int).SetBytes(rawSig[32:64])
	if !crypto.ValidateSignatureValues(rawSig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("non-canonical signature")
	}
	pub, err := crypto.SigToPub(digest.Bytes(), rawSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that identity signed req and returns the signed digest.
func VerifyRequest(identity common.Address, req Request, signature string) (common.Hash, error) {
	digest := req.Digest()
	recovered, err := Recover(digest, signature)
	if err != nil {
		return common.Hash{}, err
	}
	if recovered != identity {
		return common.Hash{}, fmt.Errorf("signature mismatch")
	}
	return digest, nil
}
