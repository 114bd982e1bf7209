package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	EventSoulRegistered      = "SoulRegistered"
	EventImmolationConfirmed = "ImmolationConfirmed"
)

// The two SoulRite contract events the orchestrator tracks.
const soulRiteABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "memoryHash", "type": "bytes32"},
      {"indexed": true,  "name": "botWallet",  "type": "address"},
      {"indexed": false, "name": "birthTime",  "type": "uint256"},
      {"indexed": false, "name": "storageId",  "type": "string"}
    ],
    "name": "SoulRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "memoryHash", "type": "bytes32"},
      {"indexed": false, "name": "timestamp",  "type": "uint256"}
    ],
    "name": "ImmolationConfirmed",
    "type": "event"
  }
]`

var (
	soulRiteABI     abi.ABI
	registeredTopic common.Hash
	immolationTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(soulRiteABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: bad SoulRite ABI: %v", err))
	}
	soulRiteABI = parsed
	registeredTopic = parsed.Events[EventSoulRegistered].ID
	immolationTopic = parsed.Events[EventImmolationConfirmed].ID
}

// EventTopics returns the topic0 filter set for the tracked events.
func EventTopics() []common.Hash {
	return []common.Hash{registeredTopic, immolationTopic}
}

// RegisteredEvent is a decoded SoulRegistered log. MemoryHash is the bare
// hex of the bytes32 topic, matching the hash format the upload path
// stores.
type RegisteredEvent struct {
	MemoryHash string `json:"memory_hash"`
	BotWallet  string `json:"bot_wallet"`
	BirthTime  uint64 `json:"birth_time"`
	StorageID  string `json:"storage_id"`

	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

type ImmolationEvent struct {
	MemoryHash string `json:"memory_hash"`
	Timestamp  uint64 `json:"timestamp"`

	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// EventTypeOf maps a raw log to one of the tracked event names, or "" for
// logs the filter should not have returned.
func EventTypeOf(lg types.Log) string {
	if len(lg.Topics) == 0 {
		return ""
	}
	switch lg.Topics[0] {
	case registeredTopic:
		return EventSoulRegistered
	case immolationTopic:
		return EventImmolationConfirmed
	default:
		return ""
	}
}

func DecodeRegistered(lg types.Log) (RegisteredEvent, error) {
	if len(lg.Topics) != 3 {
		return RegisteredEvent{}, fmt.Errorf("SoulRegistered: want 3 topics, got %d", len(lg.Topics))
	}
	vals, err := soulRiteABI.Unpack(EventSoulRegistered, lg.Data)
	if err != nil {
		return RegisteredEvent{}, fmt.Errorf("SoulRegistered: unpack data: %w", err)
	}
	if len(vals) != 2 {
		return RegisteredEvent{}, fmt.Errorf("SoulRegistered: want 2 data values, got %d", len(vals))
	}
	birthTime, ok := vals[0].(*big.Int)
	if !ok {
		return RegisteredEvent{}, fmt.Errorf("SoulRegistered: birthTime is %T", vals[0])
	}
	storageID, ok := vals[1].(string)
	if !ok {
		return RegisteredEvent{}, fmt.Errorf("SoulRegistered: storageId is %T", vals[1])
	}
	return RegisteredEvent{
		MemoryHash:  hex.EncodeToString(lg.Topics[1].Bytes()),
		BotWallet:   strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
		BirthTime:   birthTime.Uint64(),
		StorageID:   storageID,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

func DecodeImmolation(lg types.Log) (ImmolationEvent, error) {
	if len(lg.Topics) != 2 {
		return ImmolationEvent{}, fmt.Errorf("ImmolationConfirmed: want 2 topics, got %d", len(lg.Topics))
	}
	vals, err := soulRiteABI.Unpack(EventImmolationConfirmed, lg.Data)
	if err != nil {
		return ImmolationEvent{}, fmt.Errorf("ImmolationConfirmed: unpack data: %w", err)
	}
	if len(vals) != 1 {
		return ImmolationEvent{}, fmt.Errorf("ImmolationConfirmed: want 1 data value, got %d", len(vals))
	}
	ts, ok := vals[0].(*big.Int)
	if !ok {
		return ImmolationEvent{}, fmt.Errorf("ImmolationConfirmed: timestamp is %T", vals[0])
	}
	return ImmolationEvent{
		MemoryHash:  hex.EncodeToString(lg.Topics[1].Bytes()),
		Timestamp:   ts.Uint64(),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

func marshalPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
