package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"bitcoin-flow-trader/internal/domain"
)

// ComputeFlowID computes a deterministic flow event id using SHA256.
// Formula: SHA256(tx_hash|venue|flow_type|amount_sat)
// Returns hex-encoded hash (64 characters). Amount is fixed to satoshi
// precision so float formatting cannot change the id.
func ComputeFlowID(
	txHash string,
	venue string,
	flowType domain.FlowType,
	amountBTC float64,
) string {
	amountSat := int64(amountBTC*1e8 + 0.5)

	data := fmt.Sprintf("%s|%s|%s|%d",
		txHash,
		venue,
		string(flowType),
		amountSat,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
