// Copyright 2016 The go-ethereum Authors
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

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

// Deployment profiles. Exactly one of them is compiled in as DefaultProfile,
// selected with the mainnet, testnet or ci build tags (devnet otherwise).
const (
	ProfileMainnet = "mainnet"
	ProfileTestnet = "testnet"
	ProfileDevnet  = "devnet"
	ProfileCI      = "ci"
)

var (
	// MainnetChainConfig runs the Istanbul instruction set only.
	MainnetChainConfig = &ChainConfig{
		Profile:   ProfileMainnet,
		ChainID:   big.NewInt(245022934),
		ProgramID: programID(ProfileMainnet),
	}

	// TestnetChainConfig adds PUSH0 on top of Istanbul.
	TestnetChainConfig = &ChainConfig{
		Profile:     ProfileTestnet,
		ChainID:     big.NewInt(245022940),
		ProgramID:   programID(ProfileTestnet),
		EnablePush0: true,
	}

	// DevnetChainConfig enables every gated instruction.
	DevnetChainConfig = &ChainConfig{
		Profile:         ProfileDevnet,
		ChainID:         big.NewInt(245022926),
		ProgramID:       programID(ProfileDevnet),
		EnablePush0:     true,
		EnableTransient: true,
		EnableMcopy:     true,
	}

	// CIChainConfig mirrors devnet with a short chain id, used by tests.
	CIChainConfig = &ChainConfig{
		Profile:         ProfileCI,
		ChainID:         big.NewInt(111),
		ProgramID:       programID(ProfileCI),
		EnablePush0:     true,
		EnableTransient: true,
		EnableMcopy:     true,
	}
)

// ChainConfig is the core config which determines the instruction set and the
// host program identity an engine build runs with.
type ChainConfig struct {
	Profile string   `json:"profile"`
	ChainID *big.Int `json:"chainId"`

	// ProgramID is the host identity of the EVM program. Every account
	// binding is derived under it.
	ProgramID [32]byte `json:"programId"`

	EnablePush0     bool `json:"push0,omitempty"`     // EIP-3855
	EnableTransient bool `json:"transient,omitempty"` // EIP-1153
	EnableMcopy     bool `json:"mcopy,omitempty"`     // EIP-5656
}

// ConfigForProfile returns the chain configuration of a named profile.
func ConfigForProfile(name string) (*ChainConfig, error) {
	switch strings.ToLower(name) {
	case ProfileMainnet:
		return MainnetChainConfig, nil
	case ProfileTestnet:
		return TestnetChainConfig, nil
	case ProfileDevnet, "":
		return DevnetChainConfig, nil
	case ProfileCI:
		return CIChainConfig, nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}

// DefaultChainConfig returns the configuration of the profile compiled into
// this binary.
func DefaultChainConfig() *ChainConfig {
	cfg, err := ConfigForProfile(DefaultProfile)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Description returns a human-readable description of ChainConfig.
func (c *ChainConfig) Description() string {
	var banner string
	banner += fmt.Sprintf("Profile:  %s\n", c.Profile)
	banner += fmt.Sprintf("Chain ID: %v\n", c.ChainID)
	banner += fmt.Sprintf("Program:  %x\n", c.ProgramID)
	banner += "Instruction set: Istanbul"
	if c.EnablePush0 {
		banner += " +PUSH0"
	}
	if c.EnableTransient {
		banner += " +TLOAD/TSTORE"
	}
	if c.EnableMcopy {
		banner += " +MCOPY"
	}
	return banner + "\n"
}

// Rules wraps ChainConfig and is merely syntactic sugar or can be used for functions
// that do not have or require information about the profile.
type Rules struct {
	ChainID                       *big.Int
	IsPush0, IsTransient, IsMcopy bool
	EmergencyHalt                 bool
}

// Rules ensures c's ChainID is not nil.
func (c *ChainConfig) Rules() Rules {
	chainID := c.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return Rules{
		ChainID:       new(big.Int).Set(chainID),
		IsPush0:       c.EnablePush0,
		IsTransient:   c.EnableTransient,
		IsMcopy:       c.EnableMcopy,
		EmergencyHalt: EmergencyHaltBuild,
	}
}

func programID(profile string) [32]byte {
	return sha256.Sum256([]byte("hostevm/" + profile))
}
