// Command sdo reads and writes object dictionary entries of CANopen nodes
// over SDO, or serves a local object dictionary.
package main

func main() {
	Execute()
}
