// Package legacy holds the V4 pending-history record shapes as they were
// persisted by the previous storage schema.
package legacy

import (
	"bytes"
	"encoding/json"
)

// ReplacedType tags the kind of replacement linking two history records.
// Stored values are carried verbatim, including ones not listed here.
type ReplacedType string

const (
	ReplacedTypeSpeedUp ReplacedType = "speedUp"
	ReplacedTypeCancel  ReplacedType = "cancel"
)

// HistoryTx is one V4 history record.
type HistoryTx struct {
	ID             string       `json:"id"`
	IsLocalCreated bool         `json:"isLocalCreated,omitempty"`
	ReplacedNextID string       `json:"replacedNextId,omitempty"`
	ReplacedPrevID string       `json:"replacedPrevId,omitempty"`
	ReplacedType   ReplacedType `json:"replacedType,omitempty"`
	DecodedTx      *DecodedTx   `json:"decodedTx,omitempty"`
}

// Migratable reports whether the record carries an encoded transaction.
// Absent, null, "", false and 0 count as no encoded transaction.
func (h HistoryTx) Migratable() bool {
	return h.DecodedTx != nil && Present(h.DecodedTx.EncodedTx)
}

// DecodedTx is the part of the V4 decoded transaction that migration reads.
// Every other stored field is ignored, whatever its type.
type DecodedTx struct {
	TxID      string    `json:"txid"`
	NetworkID string    `json:"networkId"`
	AccountID string    `json:"accountId"`
	EncodedTx EncodedTx `json:"encodedTx,omitempty"`
}

// EncodedTx is a chain-specific encoded transaction, kept as the stored JSON
// value. It is usually an object but may be any JSON value.
type EncodedTx = json.RawMessage

// Present reports whether raw holds a truthy JSON value.
func Present(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	if v[0] == '-' || (v[0] >= '0' && v[0] <= '9') {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil && f == 0 {
			return false
		}
	}
	return true
}

// BtcForkEncodedTx is the typed view of an EncodedTx object on a Bitcoin-fork
// network. Nil fields are absent in the stored object.
type BtcForkEncodedTx struct {
	Inputs               json.RawMessage
	Outputs              json.RawMessage
	InputsForCoinSelect  json.RawMessage
	OutputsForCoinSelect json.RawMessage
	TotalFee             json.RawMessage
	PsbtHex              json.RawMessage
	InputsToSign         json.RawMessage
}

// Keys of the Bitcoin-fork encoded transaction object.
const (
	KeyInputs               = "inputs"
	KeyOutputs              = "outputs"
	KeyInputsForCoinSelect  = "inputsForCoinSelect"
	KeyOutputsForCoinSelect = "outputsForCoinSelect"
	KeyTotalFee             = "totalFee"
	KeyPsbtHex              = "psbtHex"
	KeyInputsToSign         = "inputsToSign"
)

// Fields decodes raw as a JSON object. ok is false for any other JSON value.
func Fields(raw json.RawMessage) (fields map[string]json.RawMessage, ok bool) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || v[0] != '{' {
		return nil, false
	}
	if err := json.Unmarshal(v, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// ParseBtcForkEncodedTx projects the Bitcoin-fork fields out of raw. Keys
// outside the Bitcoin-fork shape are ignored. ok is false when raw is not
// an object.
func ParseBtcForkEncodedTx(raw EncodedTx) (BtcForkEncodedTx, bool) {
	fields, ok := Fields(raw)
	if !ok {
		return BtcForkEncodedTx{}, false
	}
	return BtcForkEncodedTx{
		Inputs:               fields[KeyInputs],
		Outputs:              fields[KeyOutputs],
		InputsForCoinSelect:  fields[KeyInputsForCoinSelect],
		OutputsForCoinSelect: fields[KeyOutputsForCoinSelect],
		TotalFee:             fields[KeyTotalFee],
		PsbtHex:              fields[KeyPsbtHex],
		InputsToSign:         fields[KeyInputsToSign],
	}, true
}

// Marshal turns the typed view back into an object, omitting nil fields.
func (b BtcForkEncodedTx) Marshal() (EncodedTx, error) {
	out := map[string]json.RawMessage{}
	Put(out, KeyInputs, b.Inputs)
	Put(out, KeyOutputs, b.Outputs)
	Put(out, KeyInputsForCoinSelect, b.InputsForCoinSelect)
	Put(out, KeyOutputsForCoinSelect, b.OutputsForCoinSelect)
	Put(out, KeyTotalFee, b.TotalFee)
	Put(out, KeyPsbtHex, b.PsbtHex)
	Put(out, KeyInputsToSign, b.InputsToSign)
	return json.Marshal(out)
}

// Put sets m[key] unless v is nil.
func Put(m map[string]json.RawMessage, key string, v json.RawMessage) {
	if v != nil {
		m[key] = v
	}
}
