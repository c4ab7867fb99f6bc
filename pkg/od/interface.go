package od

import (
	"sort"
	"sync"
)

// An entry of the object dictionary, a single variable or a list of them
type Entry struct {
	Index      uint16
	Name       string
	ObjectType uint8
	subEntries map[uint8]*Variable
}

func (entry *Entry) SubIndex(subindex uint8) (*Variable, error) {
	variable, ok := entry.subEntries[subindex]
	if !ok {
		return nil, ErrSubNotExist
	}
	return variable, nil
}

// Number of sub entries
func (entry *Entry) SubCount() int {
	return len(entry.subEntries)
}

type ObjectDictionary struct {
	mu      sync.RWMutex
	entries map[uint16]*Entry
}

func NewOD() *ObjectDictionary {
	return &ObjectDictionary{entries: make(map[uint16]*Entry)}
}

// Add a variable, creating the entry if needed.
// Variables with a non zero subindex turn the entry into a record.
func (od *ObjectDictionary) AddVariable(index uint16, name string, variable *Variable) *Entry {
	od.mu.Lock()
	defer od.mu.Unlock()
	entry, ok := od.entries[index]
	if !ok {
		entry = &Entry{Index: index, Name: name, ObjectType: ObjectTypeVar, subEntries: map[uint8]*Variable{}}
		od.entries[index] = entry
	}
	if variable.SubIndex != 0 && entry.ObjectType == ObjectTypeVar {
		entry.ObjectType = ObjectTypeRecord
	}
	entry.subEntries[variable.SubIndex] = variable
	return entry
}

// Add a variable from an EDS style default value
func (od *ObjectDictionary) AddVariableType(index uint16, name string, datatype uint8, attribute uint8, value string) (*Variable, error) {
	variable, err := NewVariable(0, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	od.AddVariable(index, name, variable)
	return variable, nil
}

// Get an entry, nil if it does not exist
func (od *ObjectDictionary) Index(index uint16) *Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.entries[index]
}

// Get a variable, the returned error is an [ODR]
func (od *ObjectDictionary) Variable(index uint16, subindex uint8) (*Variable, error) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	return entry.SubIndex(subindex)
}

func (od *ObjectDictionary) Read(index uint16, subindex uint8) ([]byte, error) {
	variable, err := od.Variable(index, subindex)
	if err != nil {
		return nil, err
	}
	return variable.Read()
}

func (od *ObjectDictionary) Write(index uint16, subindex uint8, data []byte) error {
	variable, err := od.Variable(index, subindex)
	if err != nil {
		return err
	}
	return variable.Write(data)
}

// Sorted list of indexes
func (od *ObjectDictionary) Indexes() []uint16 {
	od.mu.RLock()
	defer od.mu.RUnlock()
	indexes := make([]uint16, 0, len(od.entries))
	for index := range od.entries {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes
}
