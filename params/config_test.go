package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigForProfile(t *testing.T) {
	tests := []struct {
		name      string
		push0     bool
		transient bool
	}{
		{ProfileMainnet, false, false},
		{ProfileTestnet, true, false},
		{ProfileDevnet, true, true},
		{"CI", true, true},
	}
	for _, tt := range tests {
		cfg, err := ConfigForProfile(tt.name)
		require.NoError(t, err, tt.name)
		rules := cfg.Rules()
		assert.Equal(t, tt.push0, rules.IsPush0, tt.name)
		assert.Equal(t, tt.transient, rules.IsTransient, tt.name)
		assert.Equal(t, tt.transient, rules.IsMcopy, tt.name)
	}
	_, err := ConfigForProfile("ropsten")
	assert.Error(t, err)
}

func TestProgramIDsDistinct(t *testing.T) {
	seen := make(map[[32]byte]string)
	for _, cfg := range []*ChainConfig{MainnetChainConfig, TestnetChainConfig, DevnetChainConfig, CIChainConfig} {
		if prev, ok := seen[cfg.ProgramID]; ok {
			t.Fatalf("profiles %s and %s share a program id", prev, cfg.Profile)
		}
		seen[cfg.ProgramID] = cfg.Profile
	}
	assert.Equal(t, DefaultProfile, DefaultChainConfig().Profile)
}
