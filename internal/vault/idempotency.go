package vault

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdempotencyKey derives the key attached to every attempt of one logical
// ledger mutation: keccak256("<vaultID>|<op>|<seq>") as 0x-prefixed hex.
func IdempotencyKey(vaultID, op string, seq int64) string {
	preimage := vaultID + "|" + op + "|" + strconv.FormatInt(seq, 10)
	return hexutil.Encode(crypto.Keccak256([]byte(preimage)))
}
