// Package wire is C6: the message envelope and payload encoding
// exchanged between nodes. Where the teacher's network/pseudo_p2p.go
// gob-encodes typed command structs behind a 12-byte command prefix,
// this spec calls for a self-delimiting textual (JSON-equivalent)
// envelope, so the framing here is a single JSON object per message
// instead of [12-byte command][gob payload].
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"utxochain/hashutil"
	"utxochain/model"
)

// Command names the kind of message carried by an envelope.
type Command string

const (
	CommandVersion          Command = "VERSION"
	CommandGetTransactions  Command = "GET_TRANSACTIONS"
	CommandTransactions     Command = "TRANSACTIONS"
	CommandGetBlocks        Command = "GET_BLOCKS"
	CommandBlocks           Command = "BLOCKS"
	CommandPing             Command = "PING"
	CommandPong             Command = "PONG"
)

// Message is the self-delimiting envelope every datagram carries.
type Message struct {
	Command  Command         `json:"command"`
	Payload  json.RawMessage `json:"payload"`
	FromPort uint32          `json:"from_port"`
}

// VersionPayload announces a node's protocol version and chain height.
type VersionPayload struct {
	Version     int `json:"version"`
	BlockHeight int `json:"block_height"`
}

// GetTransactionsPayload carries no fields.
type GetTransactionsPayload struct{}

// TransactionsPayload carries a batch of transactions.
type TransactionsPayload struct {
	Transactions []model.Transaction `json:"transactions"`
}

// GetBlocksPayload requests blocks from an anchor; an empty hash means
// "all blocks".
type GetBlocksPayload struct {
	FromBlockHash hashutil.Hash `json:"from_block_hash"`
}

// BlocksPayload carries a batch of blocks.
type BlocksPayload struct {
	Blocks []model.Block `json:"blocks"`
}

// PingPayload / PongPayload carry no fields.
type PingPayload struct{}
type PongPayload struct{}

// Encode marshals a command and its typed payload into one envelope,
// ready to hand to the transport.
func Encode(command Command, payload interface{}, fromPort uint32) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	msg := Message{Command: command, Payload: raw, FromPort: fromPort}
	return json.Marshal(msg)
}

// strictUnmarshal rejects unknown keys but tolerates surrounding
// whitespace, per §4.6.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Decode parses a raw datagram into its envelope. Payload decoding
// happens separately, by command, via the Decode* helpers below.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := strictUnmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return msg, nil
}

func (m Message) DecodeVersion() (VersionPayload, error) {
	var p VersionPayload
	err := strictUnmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeTransactions() (TransactionsPayload, error) {
	var p TransactionsPayload
	err := strictUnmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeGetBlocks() (GetBlocksPayload, error) {
	var p GetBlocksPayload
	err := strictUnmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeBlocks() (BlocksPayload, error) {
	var p BlocksPayload
	err := strictUnmarshal(m.Payload, &p)
	return p, err
}
