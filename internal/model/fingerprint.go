package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// TransactionFingerprint identifies one crediting of one order for one customer.
// It is the value stored under the unique transaction_hash constraint.
func TransactionFingerprint(customerExternalID, orderID int64) string {
	data := strconv.FormatInt(customerExternalID, 10) + "-" + strconv.FormatInt(orderID, 10)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// PayloadFingerprint hashes a canonical event payload for the dedup cache.
func PayloadFingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
