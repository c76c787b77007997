// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package params

// Gas schedule, pinned to Istanbul (EIP-150, EIP-158, EIP-1884, EIP-2028, EIP-2200).
const (
	CallValueTransferGas  uint64 = 9000  // Paid for CALL when the value transfer is non-zero.
	CallNewAccountGas     uint64 = 25000 // Paid for CALL when the destination address didn't exist prior.
	TxGas                 uint64 = 21000 // Per transaction not creating a contract.
	TxGasContractCreation uint64 = 53000 // Per transaction that creates a contract.
	TxDataZeroGas         uint64 = 4     // Per byte of data attached to a transaction that equals zero.
	TxDataNonZeroGas      uint64 = 16    // Per byte of data attached to a transaction that is not equal to zero (EIP-2028).
	QuadCoeffDiv          uint64 = 512   // Divisor for the quadratic particle of the memory cost equation.
	LogDataGas            uint64 = 8     // Per byte in a LOG* operation's data.
	CallStipend           uint64 = 2300  // Free gas given at beginning of call.

	Keccak256Gas     uint64 = 30 // Once per KECCAK256 operation.
	Keccak256WordGas uint64 = 6  // Once per word of the KECCAK256 operation's data.

	SloadGas uint64 = 800 // EIP-1884

	SstoreSentryGas         uint64 = 2300  // Minimum gas required to be present for an SSTORE call, not consumed
	SstoreSetGas            uint64 = 20000 // Once per SSTORE operation from clean zero to non-zero
	SstoreResetGas          uint64 = 5000  // Once per SSTORE operation from clean non-zero to something else
	SstoreClearsRefund      uint64 = 15000 // Once per SSTORE operation for clearing an originally existing storage slot
	SelfdestructRefundGas   uint64 = 24000 // Refunded following a selfdestruct operation.
	RefundQuotient          uint64 = 2     // Maximum refund quotient; max gas refund is gasUsed / RefundQuotient.
	JumpdestGas             uint64 = 1     // Once per JUMPDEST operation.
	CreateDataGas           uint64 = 200   // Per byte of deployed code.
	CallCreateDepth         uint64 = 1024  // Maximum depth of call/create stack.
	ExpGas                  uint64 = 10    // Once per EXP instruction
	ExpByteGas              uint64 = 50    // Times ceil(log256(exponent)) for the EXP instruction (EIP-158).
	LogGas                  uint64 = 375   // Per LOG* operation.
	CopyGas                 uint64 = 3     // Per word of copied code.
	StackLimit              uint64 = 1024  // Maximum size of VM stack allowed.
	LogTopicGas             uint64 = 375   // Multiplied by the * of the LOG*, per LOG topic.
	CreateGas               uint64 = 32000 // Once per CREATE operation & contract-creation transaction.
	Create2Gas              uint64 = 32000 // Once per CREATE2 operation
	SelfdestructGas         uint64 = 5000  // EIP-150
	CreateBySelfdestructGas uint64 = 25000 // Paid by SELFDESTRUCT when the beneficiary is created.
	MemoryGas               uint64 = 3     // Times the address of the (highest referenced byte in memory + 1).
	CallGas                 uint64 = 700   // EIP-150
	BalanceGas              uint64 = 700   // EIP-1884
	ExtcodeSizeGas          uint64 = 700   // EIP-150
	ExtcodeCopyBase         uint64 = 700   // EIP-150
	ExtcodeHashGas          uint64 = 700   // EIP-1884
	SelfBalanceGas          uint64 = 5     // EIP-1884
	BlockhashGas            uint64 = 20
	TransientStorageGas     uint64 = 100   // EIP-1153 TLOAD and TSTORE
	MaxCodeSize                    = 24576 // Maximum bytecode to permit for a contract

	// Precompiled contract gas prices

	EcrecoverGas        uint64 = 3000 // Elliptic curve sender recovery gas price
	Sha256BaseGas       uint64 = 60   // Base price for a SHA256 operation
	Sha256PerWordGas    uint64 = 12   // Per-word price for a SHA256 operation
	Ripemd160BaseGas    uint64 = 600  // Base price for a RIPEMD160 operation
	Ripemd160PerWordGas uint64 = 120  // Per-word price for a RIPEMD160 operation
	IdentityBaseGas     uint64 = 15   // Base price for a data copy operation
	IdentityPerWordGas  uint64 = 3    // Per-work price for a data copy operation
	ModExpQuadCoeffDiv  uint64 = 20   // Divisor for the quadratic particle of the big int modular exponentiation

	Bn256AddGas             uint64 = 150   // Gas needed for an elliptic curve addition (EIP-1108)
	Bn256ScalarMulGas       uint64 = 6000  // Gas needed for an elliptic curve scalar multiplication (EIP-1108)
	Bn256PairingBaseGas     uint64 = 45000 // Base price for an elliptic curve pairing check (EIP-1108)
	Bn256PairingPerPointGas uint64 = 34000 // Per-point price for an elliptic curve pairing check (EIP-1108)

	Blake2FRoundGas uint64 = 1 // Per-round price for the BLAKE2F precompile

	// Host call bridge pricing.
	HostCallBaseGas    uint64 = 10000
	HostCallByteGas    uint64 = 100
	HostCallAccountGas uint64 = 1000
	HostQueryGas       uint64 = 700 // Address derivation queries of the bridge.
)

// Host runtime parameters.
const (
	// AccountSeedVersion prefixes every seed list used to derive a host cell
	// from an EVM address.
	AccountSeedVersion byte = 3

	// LamportsToWeiFactor converts host-native lamports into EVM balance units.
	LamportsToWeiFactor uint64 = 1_000_000_000

	// DefaultArenaSize is the heap available to one transaction attempt.
	DefaultArenaSize = 256 * 1024

	// DefaultStepLimit is the number of opcodes one host step may execute.
	DefaultStepLimit uint64 = 500

	// MaxHolderSize bounds the data of a transaction holder cell.
	MaxHolderSize = 256 * 1024
)
