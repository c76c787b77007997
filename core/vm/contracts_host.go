package vm

import (
	"fmt"
	"strings"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// HostBridgeAddress is where contracts reach native host programs.
var HostBridgeAddress = common.HexToAddress("0xFF00000000000000000000000000000000000006")

const hostBridgeABI = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable",
	 "inputs":[{"name":"lamports","type":"uint64"},{"name":"instruction","type":"bytes"}],
	 "outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"executeWithSeed","stateMutability":"nonpayable",
	 "inputs":[{"name":"lamports","type":"uint64"},{"name":"salt","type":"bytes32"},{"name":"instruction","type":"bytes"}],
	 "outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"getNeonAddress","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getResourceAddress","stateMutability":"view",
	 "inputs":[{"name":"salt","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getPayer","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"withdraw","stateMutability":"payable",
	 "inputs":[{"name":"destination","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	hostABI abi.ABI

	authSeed  = []byte("AUTH")
	payerSeed = []byte("PAYER")

	// revertSelector is the selector of Error(string).
	revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

	errNoInvoker   = fmt.Errorf("no native invoker configured")
	errNoHostStore = fmt.Errorf("no host store configured")

	lamportsToWei = uint256.NewInt(params.LamportsToWeiFactor)
)

func init() {
	var err error
	if hostABI, err = abi.JSON(strings.NewReader(hostBridgeABI)); err != nil {
		panic(err)
	}
}

// packRevert encodes reason the way Solidity encodes a failed require.
func packRevert(reason string) []byte {
	stringTy, _ := abi.NewType("string", "", nil)
	data, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		return nil
	}
	return append(common.CopyBytes(revertSelector), data...)
}

// HostAuthority returns the signer a contract acts as when it invokes a
// native program, optionally namespaced by salt.
func HostAuthority(program host.Pubkey, caller common.Address, salt *common.Hash) host.Pubkey {
	seeds := [][]byte{{params.AccountSeedVersion}, authSeed, caller[:]}
	if salt != nil {
		seeds = append(seeds, salt[:])
	}
	key, _, err := host.FindProgramAddress(seeds, program)
	if err != nil {
		panic(err)
	}
	return key
}

// HostPayer returns the cell funding the native calls of caller.
func HostPayer(program host.Pubkey, caller common.Address) host.Pubkey {
	key, _, err := host.FindProgramAddress([][]byte{{params.AccountSeedVersion}, payerSeed, caller[:]}, program)
	if err != nil {
		panic(err)
	}
	return key
}

// hostBridge lets contracts invoke native host programs, query the host
// addresses bound to them and withdraw balance back to host lamports.
type hostBridge struct{}

type bridgeRequest struct {
	method      *abi.Method
	lamports    uint64
	salt        *common.Hash
	target      common.Address
	destination host.Pubkey
	ix          *host.Instruction
}

func decodeBridgeRequest(input []byte) (*bridgeRequest, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("missing method selector")
	}
	method, err := hostABI.MethodById(input[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.Name, err)
	}
	req := &bridgeRequest{method: method}
	switch method.Name {
	case "execute":
		req.lamports = args[0].(uint64)
		req.ix, err = host.DecodeInstruction(args[1].([]byte))
	case "executeWithSeed":
		req.lamports = args[0].(uint64)
		salt := common.Hash(args[1].([32]byte))
		req.salt = &salt
		req.ix, err = host.DecodeInstruction(args[2].([]byte))
	case "getNeonAddress":
		req.target = args[0].(common.Address)
	case "getResourceAddress":
		salt := common.Hash(args[0].([32]byte))
		req.salt = &salt
	case "withdraw":
		req.destination = host.Pubkey(args[0].([32]byte))
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (req *bridgeRequest) executes() bool { return req.ix != nil }

// RequiredGas charges a base fee plus the size of the native instruction.
// Malformed input is priced at the base fee and rejected by RunWith.
func (c *hostBridge) RequiredGas(input []byte) uint64 {
	req, err := decodeBridgeRequest(input)
	if err != nil {
		return params.HostCallBaseGas
	}
	if req.method.Name == "withdraw" {
		return params.HostCallBaseGas
	}
	if !req.executes() {
		return params.HostQueryGas
	}
	return params.HostCallBaseGas +
		uint64(len(req.ix.Data))*params.HostCallByteGas +
		uint64(len(req.ix.Accounts))*params.HostCallAccountGas
}

// Run is never reached for the bridge; RunPrecompiledContract dispatches to
// RunWith.
func (c *hostBridge) Run(input []byte) ([]byte, error) {
	return nil, ErrNotSupported
}

func (c *hostBridge) RunWith(evm *EVM, call *PrecompileCall, input []byte) ([]byte, error) {
	if call.Kind != FrameCall {
		return packRevert(fmt.Sprintf("host bridge cannot be reached by %s", call.Kind)), ErrExecutionReverted
	}
	req, err := decodeBridgeRequest(input)
	if err != nil {
		return packRevert(err.Error()), fatal(ErrHostCallFailed, err)
	}
	if req.method.Name == "withdraw" {
		return c.withdraw(evm, call, req)
	}
	if call.Value != nil && !call.Value.IsZero() {
		return packRevert("host bridge does not accept value"), ErrExecutionReverted
	}
	program := evm.Config.Program

	switch req.method.Name {
	case "getNeonAddress":
		return req.method.Outputs.Pack([32]byte(state.DeriveBinding(program, req.target)))
	case "getResourceAddress":
		return req.method.Outputs.Pack([32]byte(HostAuthority(program, call.Caller, req.salt)))
	case "getPayer":
		return req.method.Outputs.Pack([32]byte(HostPayer(program, call.Caller)))
	}
	if call.ReadOnly {
		return packRevert("host call in static context"), ErrExecutionReverted
	}
	if err := c.invoke(evm, call.Caller, req); err != nil {
		hostCallFailMeter.Mark(1)
		evm.logger.Debug("Host call failed", "caller", call.Caller, "program", req.ix.ProgramID, "err", err)
		return packRevert(ErrHostCallFailed.Msg), fatal(ErrHostCallFailed, err)
	}
	return req.method.Outputs.Pack([]byte{})
}

// invoke funds the payer from the caller's binding and runs the native
// instruction signed by the caller's authority and payer.
func (c *hostBridge) invoke(evm *EVM, caller common.Address, req *bridgeRequest) error {
	store, invoker := evm.Config.HostStore, evm.Config.Invoker
	if store == nil || invoker == nil {
		return errNoInvoker
	}
	// From here on the host may observe effects that no EVM revert can take
	// back, so the current Run must not yield any more.
	evm.pinned = true
	evm.hostCalls++
	hostCallMeter.Mark(1)

	var (
		program   = evm.Config.Program
		payer     = HostPayer(program, caller)
		authority = HostAuthority(program, caller, req.salt)
	)
	if req.lamports > 0 {
		if err := host.Transfer(store, state.DeriveBinding(program, caller), payer, req.lamports); err != nil {
			return err
		}
	}
	evm.logger.Trace("Invoking host program", "caller", caller, "program", req.ix.ProgramID, "accounts", len(req.ix.Accounts), "lamports", req.lamports)
	return invoker.Invoke(store, req.ix, []host.Pubkey{authority, payer})
}

// withdraw burns the value sent along with the call and schedules the same
// amount in lamports to leave the caller's binding cell for the destination.
// The lamports move when the transaction commits, so a revert of any
// enclosing frame cancels the withdrawal together with the burn.
func (c *hostBridge) withdraw(evm *EVM, call *PrecompileCall, req *bridgeRequest) ([]byte, error) {
	if call.ReadOnly {
		return packRevert("withdraw in static context"), ErrExecutionReverted
	}
	if call.Value == nil || call.Value.IsZero() {
		return packRevert("withdraw of zero value"), ErrExecutionReverted
	}
	amount, rem := new(uint256.Int).DivMod(call.Value, lamportsToWei, new(uint256.Int))
	if !rem.IsZero() {
		return packRevert(fmt.Sprintf("withdraw value must be a multiple of %d wei", params.LamportsToWeiFactor)), ErrExecutionReverted
	}
	if !amount.IsUint64() {
		return packRevert("withdraw value overflows lamports"), ErrExecutionReverted
	}
	store := evm.Config.HostStore
	if store == nil {
		return packRevert(ErrHostCallFailed.Msg), fatal(ErrHostCallFailed, errNoHostStore)
	}
	binding := state.DeriveBinding(evm.Config.Program, call.Caller)
	cell, err := store.GetAccount(binding)
	if err != nil {
		return packRevert(ErrHostCallFailed.Msg), fatal(ErrHostCallFailed, err)
	}
	var available uint64
	if cell != nil {
		available = cell.Lamports
	}
	lamports, scheduled := amount.Uint64(), evm.StateDB.Withdrawn(call.Caller)
	if scheduled > available || available-scheduled < lamports {
		return packRevert("insufficient lamports in binding cell"), ErrExecutionReverted
	}
	evm.StateDB.SubBalance(HostBridgeAddress, call.Value)
	evm.StateDB.Withdraw(call.Caller, req.destination, lamports)
	withdrawMeter.Mark(1)
	evm.logger.Debug("Scheduled withdrawal", "caller", call.Caller, "destination", req.destination, "lamports", lamports)
	return req.method.Outputs.Pack(true)
}
