package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samsamfire/gosdo/pkg/od"
)

// Value types accepted by --type
var dataTypes = map[string]uint8{
	"bool":   od.BOOLEAN,
	"i8":     od.INTEGER8,
	"i16":    od.INTEGER16,
	"i32":    od.INTEGER32,
	"i64":    od.INTEGER64,
	"u8":     od.UNSIGNED8,
	"u16":    od.UNSIGNED16,
	"u32":    od.UNSIGNED32,
	"u64":    od.UNSIGNED64,
	"r32":    od.REAL32,
	"r64":    od.REAL64,
	"string": od.VISIBLE_STRING,
	"raw":    od.DOMAIN,
}

func typeNames() string {
	names := make([]string, 0, len(dataTypes))
	for name := range dataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func parseDataType(name string) (uint8, error) {
	dataType, ok := dataTypes[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown type %q, expecting one of %v", name, typeNames())
	}
	return dataType, nil
}

// Size of a fixed size type, 0 for strings and raw bytes
func dataTypeSize(dataType uint8) uint32 {
	if dataType == od.VISIBLE_STRING || dataType == od.DOMAIN {
		return 0
	}
	encoded, _ := od.EncodeFromString("0", dataType, 0)
	return uint32(len(encoded))
}

func encodeValue(value string, dataType uint8) ([]byte, error) {
	if dataType == od.DOMAIN {
		return hex.DecodeString(value)
	}
	return od.EncodeFromString(value, dataType, 0)
}

func decodeValue(data []byte, dataType uint8) (string, error) {
	switch dataType {
	case od.DOMAIN:
		return hex.EncodeToString(data), nil
	case od.VISIBLE_STRING:
		return string(bytes.TrimRight(data, "\x00")), nil
	default:
		return od.DecodeToString(data, dataType, 10)
	}
}

func parseNodeId(s string) (uint8, error) {
	nodeId, err := strconv.ParseUint(s, 0, 8)
	if err != nil || nodeId < 1 || nodeId > 127 {
		return 0, fmt.Errorf("invalid node id %q, expecting 1..127", s)
	}
	return uint8(nodeId), nil
}

// Parse "<node> <index> <subindex>", numbers may be given in hex with 0x
func parseAddress(args []string) (nodeId uint8, index uint16, subindex uint8, err error) {
	nodeId, err = parseNodeId(args[0])
	if err != nil {
		return
	}
	index64, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid index %q", args[1])
	}
	subindex64, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid subindex %q", args[2])
	}
	return nodeId, uint16(index64), uint8(subindex64), nil
}

type entryOutput struct {
	Node     uint8  `json:"node" yaml:"node"`
	Index    string `json:"index" yaml:"index"`
	Subindex uint8  `json:"subindex" yaml:"subindex"`
	Type     string `json:"type" yaml:"type"`
	Value    string `json:"value" yaml:"value"`
}

func newEntryOutput(nodeId uint8, index uint16, subindex uint8, typeName string, value string) entryOutput {
	return entryOutput{
		Node:     nodeId,
		Index:    fmt.Sprintf("0x%04X", index),
		Subindex: subindex,
		Type:     strings.ToLower(typeName),
		Value:    value,
	}
}
