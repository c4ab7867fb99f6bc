package od

import _ "embed"

//go:embed base.eds
var rawDefaultOd []byte

// Return embeded default object dictionary
func Default() *ObjectDictionary {
	return DefaultForNode(0)
}

// Default object dictionary with $NODEID entries resolved for nodeId
func DefaultForNode(nodeId uint8) *ObjectDictionary {
	defaultOd, err := Parse(rawDefaultOd, nodeId)
	if err != nil {
		panic(err)
	}
	return defaultOd
}
