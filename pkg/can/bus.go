package can

import (
	"fmt"
	"sort"
	"sync"

	canopen "github.com/samsamfire/gosdo"
)

type NewInterfaceFunc func(channel string) (canopen.Bus, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// Names of the registered interfaces, sorted
func AvailableInterfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Currently supported : socketcan, socketcanv2, virtual
// The bitrate is configured outside of this library (e.g. with ip link)
func NewBus(canInterface string, channel string, bitrate int) (canopen.Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v, available : %v", canInterface, AvailableInterfaces())
	}
	return createInterface(channel)
}
