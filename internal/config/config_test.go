package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.Server.ReadOnly)
	assert.True(t, cfg.Auth.RequireSignature)
	assert.Equal(t, 50, cfg.Platform.MaxFollowers)
	assert.Equal(t, "followers", cfg.Platform.FailureFeeRefund)

	fee, err := cfg.Platform.FollowFeeBaseUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), fee)
}

func TestFollowFeeBaseUnits(t *testing.T) {
	cases := []struct {
		fee      string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{fee: "0.001", decimals: 9, want: 1_000_000},
		{fee: "1", decimals: 9, want: 1_000_000_000},
		{fee: " 0.5 ", decimals: 2, want: 50},
		{fee: "0", decimals: 9, want: 0},
		{fee: "0.0000000001", decimals: 9, wantErr: true},
		{fee: "-1", decimals: 9, wantErr: true},
		{fee: "abc", decimals: 9, wantErr: true},
		{fee: "100000000000", decimals: 9, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.fee, func(t *testing.T) {
			got, err := PlatformConfig{FollowFee: tc.fee, UnitDecimals: tc.decimals}.FollowFeeBaseUnits()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateRejectsBadPlatform(t *testing.T) {
	cfg := Default()
	cfg.Platform.FailureFeeRefund = "caller"
	assert.ErrorContains(t, cfg.Validate(), "failure_fee_refund")

	cfg = Default()
	cfg.Platform.MaxFollowers = 0
	assert.ErrorContains(t, cfg.Validate(), "max_followers")

	cfg = Default()
	cfg.Platform.MaxClaimed = -1
	assert.ErrorContains(t, cfg.Validate(), "max_claimed")

	cfg = Default()
	cfg.Platform.MaxFollowers = 3
	cfg.Platform.MaxClaimed = 2
	assert.ErrorContains(t, cfg.Validate(), "max_claimed (2) must be at least platform.max_followers (3)")

	cfg.Platform.MaxClaimed = 3
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("CREDCALLS_PLATFORM_FOLLOW_FEE", "0.002")
	t.Setenv("CREDCALLS_SERVER_READ_ONLY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.002", cfg.Platform.FollowFee)
	assert.True(t, cfg.Server.ReadOnly)
}
