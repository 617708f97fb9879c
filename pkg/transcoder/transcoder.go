// Package transcoder maps V4 encoded transactions to their V5 shape.
//
// The mapping is chosen by the chain family of the transaction's network.
// Families whose encoding did not change between schema versions fall
// through to the identity arm; a family with a new encoding gets its own arm.
package transcoder

import (
	"bytes"

	"github.com/walletkit/history-migrator/pkg/networks"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

// Transcode converts encodedTx, recorded on networkID, to the current schema.
// It never fails: unknown fields of a Bitcoin-fork object are dropped, and
// every other payload is copied byte for byte. A nil input yields nil.
func Transcode(encodedTx legacy.EncodedTx, networkID string) history.EncodedTx {
	if encodedTx == nil {
		return nil
	}

	switch networks.FamilyOf(networkID) {
	case networks.FamilyBtcFork:
		return btcFork(encodedTx)
	case networks.FamilyDefault:
		return passThrough(encodedTx)
	default:
		return passThrough(encodedTx)
	}
}

// btcFork renames totalFee to fee. A payload that is not a JSON object has
// no fields to rename and is copied unchanged.
func btcFork(encodedTx legacy.EncodedTx) history.EncodedTx {
	v4, ok := legacy.ParseBtcForkEncodedTx(encodedTx)
	if !ok {
		return passThrough(encodedTx)
	}
	v5 := history.BtcForkEncodedTx{
		Inputs:               v4.Inputs,
		Outputs:              v4.Outputs,
		InputsForCoinSelect:  v4.InputsForCoinSelect,
		OutputsForCoinSelect: v4.OutputsForCoinSelect,
		Fee:                  v4.TotalFee,
		PsbtHex:              v4.PsbtHex,
		InputsToSign:         v4.InputsToSign,
	}
	out, err := v5.Marshal()
	if err != nil {
		return passThrough(encodedTx)
	}
	return out
}

// passThrough returns a fresh copy of the payload bytes.
func passThrough(encodedTx legacy.EncodedTx) history.EncodedTx {
	return bytes.Clone(encodedTx)
}
