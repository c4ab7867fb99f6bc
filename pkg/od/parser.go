package od

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

// Get index & subindex matching
var matchIdxRegExp = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
var matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)

// Parse an EDS file
// file can be either a path or an *os.File or []byte
// Only the keys needed to serve SDO requests are used :
// ParameterName, ObjectType, DataType, AccessType and DefaultValue
func Parse(file any, nodeId uint8) (*ObjectDictionary, error) {
	od := NewOD()
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}

	for _, section := range edsFile.Sections() {
		sectionName := section.Name()

		// Match indexes : This adds new entries to the dictionary
		if matchIdxRegExp.MatchString(sectionName) {
			idx, err := strconv.ParseUint(sectionName, 16, 16)
			if err != nil {
				return nil, err
			}
			index := uint16(idx)
			name := section.Key("ParameterName").String()
			objectType := ObjectTypeVar
			if section.HasKey("ObjectType") {
				objType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8)
				if err != nil {
					return nil, fmt.Errorf("failed to parse object type for x%x : %v", index, err)
				}
				objectType = uint8(objType)
			}
			switch objectType {
			case ObjectTypeVar, ObjectTypeDomain:
				variable, err := newVariableFromSection(section, 0, nodeId, name)
				if err != nil {
					return nil, fmt.Errorf("failed to create new entry x%x : %v", index, err)
				}
				od.AddVariable(index, name, variable)
			case ObjectTypeArray, ObjectTypeRecord:
				od.addEntry(index, name, objectType)
			default:
				return nil, fmt.Errorf("unknown object type %v for x%x", objectType, index)
			}
			continue
		}

		// Match subindexes, their entry has been created beforehand
		if matchSubidxRegExp.MatchString(sectionName) {
			match := matchSubidxRegExp.FindStringSubmatch(sectionName)
			idx, err := strconv.ParseUint(match[1], 16, 16)
			if err != nil {
				return nil, err
			}
			sidx, err := strconv.ParseUint(match[2], 16, 8)
			if err != nil {
				return nil, err
			}
			index := uint16(idx)
			entry := od.Index(index)
			if entry == nil {
				return nil, fmt.Errorf("subindex section %v without entry x%x", sectionName, index)
			}
			variable, err := newVariableFromSection(section, uint8(sidx), nodeId, section.Key("ParameterName").String())
			if err != nil {
				return nil, fmt.Errorf("failed to create sub entry %v : %v", sectionName, err)
			}
			od.AddVariable(index, entry.Name, variable)
		}
	}
	return od, nil
}

func newVariableFromSection(section *ini.Section, subindex uint8, nodeId uint8, name string) (*Variable, error) {
	return newVariableFromKeys(
		subindex,
		nodeId,
		name,
		section.Key("DataType").Value(),
		section.Key("AccessType").Value(),
		section.Key("DefaultValue").Value(),
	)
}

func (od *ObjectDictionary) addEntry(index uint16, name string, objectType uint8) {
	od.mu.Lock()
	defer od.mu.Unlock()
	od.entries[index] = &Entry{Index: index, Name: name, ObjectType: objectType, subEntries: map[uint8]*Variable{}}
}
