// Package history holds the current (V5) pending-history record shapes.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

// AccountHistoryTx is a pending-history record in the current schema.
type AccountHistoryTx struct {
	ID             string              `json:"id"`
	IsLocalCreated bool                `json:"isLocalCreated,omitempty"`
	ReplacedNextID string              `json:"replacedNextId,omitempty"`
	ReplacedPrevID string              `json:"replacedPrevId,omitempty"`
	ReplacedType   legacy.ReplacedType `json:"replacedType,omitempty"`
	DecodedTx      DecodedTx           `json:"decodedTx"`
}

// Keys of the decoded transaction object that DecodedTx exposes as fields.
const (
	KeyTxID      = "txid"
	KeyNetworkID = "networkId"
	KeyAccountID = "accountId"
	KeyEncodedTx = "encodedTx"
)

// DecodedTx is the decoded transaction produced by the transaction builder.
// The identity fields and EncodedTx are typed; every other key the builder
// returned is kept verbatim in Extra and written back unchanged.
type DecodedTx struct {
	TxID      string
	NetworkID string
	AccountID string
	EncodedTx EncodedTx
	Extra     map[string]json.RawMessage
}

// UnmarshalJSON decodes a decoded transaction object, keeping unknown keys.
func (d *DecodedTx) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	out := DecodedTx{}
	for key, v := range fields {
		var err error
		switch key {
		case KeyTxID:
			err = unmarshalString(v, &out.TxID)
		case KeyNetworkID:
			err = unmarshalString(v, &out.NetworkID)
		case KeyAccountID:
			err = unmarshalString(v, &out.AccountID)
		case KeyEncodedTx:
			if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				out.EncodedTx = v
			}
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage, len(fields))
			}
			out.Extra[key] = v
		}
		if err != nil {
			return fmt.Errorf("decoded tx %s: %w", key, err)
		}
	}
	*d = out
	return nil
}

// MarshalJSON writes Extra with the typed fields laid over it. Empty
// NetworkID, AccountID and EncodedTx are omitted.
func (d DecodedTx) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+4)
	for k, v := range d.Extra {
		out[k] = v
	}
	txid, err := json.Marshal(d.TxID)
	if err != nil {
		return nil, err
	}
	out[KeyTxID] = txid
	if err := putString(out, KeyNetworkID, d.NetworkID); err != nil {
		return nil, err
	}
	if err := putString(out, KeyAccountID, d.AccountID); err != nil {
		return nil, err
	}
	legacy.Put(out, KeyEncodedTx, d.EncodedTx)
	return json.Marshal(out)
}

func unmarshalString(v json.RawMessage, dst *string) error {
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil
	}
	return json.Unmarshal(v, dst)
}

func putString(m map[string]json.RawMessage, key, s string) error {
	if s == "" {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m[key] = b
	return nil
}

// UnsignedTx wraps the encoded transaction handed to the builder.
type UnsignedTx struct {
	EncodedTx EncodedTx `json:"encodedTx"`
}

// BuildParams is the builder request for one transaction.
type BuildParams struct {
	AccountID  string     `json:"accountId"`
	NetworkID  string     `json:"networkId"`
	UnsignedTx UnsignedTx `json:"unsignedTx"`
}

// EncodedTx is a chain-specific encoded transaction in the current schema,
// kept as raw JSON.
type EncodedTx = json.RawMessage

// BtcForkEncodedTx is the typed view of a Bitcoin-fork EncodedTx. It differs
// from the legacy shape only in the fee field name.
type BtcForkEncodedTx struct {
	Inputs               json.RawMessage
	Outputs              json.RawMessage
	InputsForCoinSelect  json.RawMessage
	OutputsForCoinSelect json.RawMessage
	Fee                  json.RawMessage
	PsbtHex              json.RawMessage
	InputsToSign         json.RawMessage
}

const KeyFee = "fee"

// ParseBtcForkEncodedTx projects the Bitcoin-fork fields out of raw. ok is
// false when raw is not an object.
func ParseBtcForkEncodedTx(raw EncodedTx) (BtcForkEncodedTx, bool) {
	fields, ok := legacy.Fields(raw)
	if !ok {
		return BtcForkEncodedTx{}, false
	}
	return BtcForkEncodedTx{
		Inputs:               fields[legacy.KeyInputs],
		Outputs:              fields[legacy.KeyOutputs],
		InputsForCoinSelect:  fields[legacy.KeyInputsForCoinSelect],
		OutputsForCoinSelect: fields[legacy.KeyOutputsForCoinSelect],
		Fee:                  fields[KeyFee],
		PsbtHex:              fields[legacy.KeyPsbtHex],
		InputsToSign:         fields[legacy.KeyInputsToSign],
	}, true
}

// Marshal turns the typed view into an object, omitting nil fields.
func (b BtcForkEncodedTx) Marshal() (EncodedTx, error) {
	out := map[string]json.RawMessage{}
	legacy.Put(out, legacy.KeyInputs, b.Inputs)
	legacy.Put(out, legacy.KeyOutputs, b.Outputs)
	legacy.Put(out, legacy.KeyInputsForCoinSelect, b.InputsForCoinSelect)
	legacy.Put(out, legacy.KeyOutputsForCoinSelect, b.OutputsForCoinSelect)
	legacy.Put(out, KeyFee, b.Fee)
	legacy.Put(out, legacy.KeyPsbtHex, b.PsbtHex)
	legacy.Put(out, legacy.KeyInputsToSign, b.InputsToSign)
	return json.Marshal(out)
}
