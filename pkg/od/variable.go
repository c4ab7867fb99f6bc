package od

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var matchNodeIdRegExp = regexp.MustCompile(`\+?\$NODEID\+?`)

// Variable is the smallest addressable element of the object dictionary
type Variable struct {
	mu           sync.RWMutex
	Name         string
	DataType     uint8
	Attribute    uint8
	SubIndex     uint8
	value        []byte
	valueDefault []byte
}

// Create a variable with a default value given as in an EDS file
func NewVariable(subindex uint8, name string, datatype uint8, attribute uint8, value string) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode default value %q : %w", value, err)
	}
	variable := &Variable{
		Name:         name,
		DataType:     datatype,
		Attribute:    attribute,
		SubIndex:     subindex,
		valueDefault: encoded,
	}
	variable.value = append([]byte{}, encoded...)
	return variable, nil
}

// Create a variable from EDS keys, $NODEID is replaced by nodeId
func newVariableFromKeys(subindex uint8, nodeId uint8, name string, dataType string, accessType string, defaultValue string) (*Variable, error) {
	if dataType == "" {
		return nil, fmt.Errorf("need data type")
	}
	dataTypeUint, err := strconv.ParseUint(dataType, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data type %v", err)
	}
	dType := uint8(dataTypeUint)
	offset := uint8(0)
	if strings.Contains(defaultValue, "$NODEID") {
		defaultValue = matchNodeIdRegExp.ReplaceAllString(defaultValue, "")
		offset = nodeId
	}
	encoded, err := EncodeFromString(defaultValue, dType, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DefaultValue' for %v, because %v (datatype :x%x)", name, err, dType)
	}
	variable := &Variable{
		Name:         name,
		DataType:     dType,
		Attribute:    EncodeAttribute(strings.ToLower(accessType), dType),
		SubIndex:     subindex,
		valueDefault: encoded,
	}
	variable.value = append([]byte{}, encoded...)
	return variable, nil
}

// Return number of bytes
func (variable *Variable) DataLength() uint32 {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	return uint32(len(variable.value))
}

// Return default value as byte slice
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// Read a copy of the current value, as the SDO server would
func (variable *Variable) Read() ([]byte, error) {
	if variable.Attribute&AttributeSdoR == 0 {
		return nil, ErrWriteOnly
	}
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	return append([]byte{}, variable.value...), nil
}

// Write a new value, as the SDO server would
func (variable *Variable) Write(data []byte) error {
	if variable.Attribute&AttributeSdoW == 0 {
		return ErrReadonly
	}
	if variable.Attribute&AttributeStr == 0 {
		if err := CheckSize(len(data), variable.DataType); err != nil {
			return err
		}
	}
	variable.mu.Lock()
	defer variable.mu.Unlock()
	variable.value = append(variable.value[:0], data...)
	return nil
}

// Restore the default value
func (variable *Variable) Reset() {
	variable.mu.Lock()
	defer variable.mu.Unlock()
	variable.value = append(variable.value[:0], variable.valueDefault...)
}

// Current value formatted in function of the data type
func (variable *Variable) String() string {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	s, err := DecodeToString(variable.value, variable.DataType, 10)
	if err != nil {
		return fmt.Sprintf("%x", variable.value)
	}
	return s
}
