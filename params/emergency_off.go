//go:build !emergency

package params

// EmergencyHaltBuild makes the program reject every instruction.
const EmergencyHaltBuild = false
