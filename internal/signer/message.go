package signer

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MessageDomain prefixes every signed request so signatures cannot be
	// replayed against other services.
	MessageDomain = "credcalls"

	HeaderIdentity       = "X-Identity"
	HeaderTimestamp      = "X-Timestamp"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// Request is the part of an HTTP request covered by the signature.
type Request struct {
	Method         string
	Path           string
	Body           []byte
	Timestamp      int64
	IdempotencyKey string
}

// BodyHash is the hex keccak256 of a request body.
func BodyHash(body []byte) string {
	return crypto.Keccak256Hash(body).Hex()
}

// Message builds the text a client signs for one request:
//
//	credcalls\n<METHOD>\n<PATH>\n<keccak256(body)>\n<unix seconds>\n<idempotency key>
//
// The last line is empty when the request carries no idempotency key.
func (r Request) Message() []byte {
	var b strings.Builder
	b.WriteString(MessageDomain)
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(r.Path)
	b.WriteByte('\n')
	b.WriteString(BodyHash(r.Body))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(r.Timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(r.IdempotencyKey)
	return []byte(b.String())
}

// Digest is the EIP-191 hash that gets signed. It identifies the request
// independently of how its signature is encoded.
func (r Request) Digest() common.Hash {
	return common.BytesToHash(accounts.TextHash(r.Message()))
}
