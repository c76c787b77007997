package types

import "fmt"

// ExitStatus is the one-byte outcome code a transaction reports back to the
// host. Codes below 0xd0 are successful, 0xd0 is a revert, 0xe_ are EVM
// faults and 0xf_ are faults of the engine itself.
type ExitStatus byte

const (
	StatusNone     ExitStatus = 0x00 // still running
	StatusStopped  ExitStatus = 0x11
	StatusReturned ExitStatus = 0x12
	StatusSuicided ExitStatus = 0x13

	StatusRevert ExitStatus = 0xd0

	StatusStackUnderflow    ExitStatus = 0xe1
	StatusStackOverflow     ExitStatus = 0xe2
	StatusInvalidJump       ExitStatus = 0xe3
	StatusInvalidRange      ExitStatus = 0xe4
	StatusInvalidOpcode     ExitStatus = 0xe5
	StatusCallTooDeep       ExitStatus = 0xe6
	StatusCreateCollision   ExitStatus = 0xe7
	StatusCodeSizeLimit     ExitStatus = 0xe8
	StatusReturnDataBounds  ExitStatus = 0xe9
	StatusOutOfGas          ExitStatus = 0xea
	StatusInsufficientFunds ExitStatus = 0xeb
	StatusWriteProtection   ExitStatus = 0xec
	StatusNonceOverflow     ExitStatus = 0xed

	StatusFatalNotSupported ExitStatus = 0xf1
	StatusFatalOutOfMemory  ExitStatus = 0xf2
	StatusFatalHostCall     ExitStatus = 0xf3
	StatusFatalStateChanged ExitStatus = 0xf4
	StatusFatalOther        ExitStatus = 0xff
)

var statusNames = map[ExitStatus]string{
	StatusNone:              "running",
	StatusStopped:           "stopped",
	StatusReturned:          "returned",
	StatusSuicided:          "selfdestructed",
	StatusRevert:            "reverted",
	StatusStackUnderflow:    "stack underflow",
	StatusStackOverflow:     "stack overflow",
	StatusInvalidJump:       "invalid jump destination",
	StatusInvalidRange:      "invalid range",
	StatusInvalidOpcode:     "invalid opcode",
	StatusCallTooDeep:       "max call depth exceeded",
	StatusCreateCollision:   "contract address collision",
	StatusCodeSizeLimit:     "max code size exceeded",
	StatusReturnDataBounds:  "return data out of bounds",
	StatusOutOfGas:          "out of gas",
	StatusInsufficientFunds: "insufficient balance",
	StatusWriteProtection:   "write protection",
	StatusNonceOverflow:     "nonce overflow",
	StatusFatalNotSupported: "not supported",
	StatusFatalOutOfMemory:  "out of memory",
	StatusFatalHostCall:     "host call failed",
	StatusFatalStateChanged: "state changed between steps",
	StatusFatalOther:        "fatal error",
}

func (s ExitStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02x", byte(s))
}

// Succeeded reports whether the transaction completed without revert or fault.
func (s ExitStatus) Succeeded() bool {
	return s >= StatusStopped && s < StatusRevert
}

// IsFatal reports whether the status aborts the transaction as a whole.
func (s ExitStatus) IsFatal() bool {
	return s >= 0xf0
}
