package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want Field
	}{
		{"protocol", FieldProtocol},
		{"kill-switch", FieldKillSwitch},
		{"dns", FieldDNSLeakProtection},
		{"doubleVpn", FieldDoubleVPN},
		{"anti-censorship", FieldAntiCensorship},
	}
	for _, tt := range tests {
		got, err := ParseField(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseField("split-tunnel")
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownField)
}

func TestRequiredFeature(t *testing.T) {
	tests := []struct {
		name    string
		change  change
		feature string
		gated   bool
	}{
		{"shadowsocks", change{FieldProtocol, models.ProtocolShadowsocks}, "shadowsocks", true},
		{"wireguard", change{FieldProtocol, models.ProtocolWireGuard}, "", false},
		{"chacha", change{FieldEncryption, models.EncryptionChaCha20Poly1305}, "premium_encryption", true},
		{"obfuscation on", change{FieldObfuscation, true}, "obfuscation", true},
		{"obfuscation off", change{FieldObfuscation, false}, "", false},
		{"double vpn on", change{FieldDoubleVPN, true}, "double_vpn", true},
		{"kill switch", change{FieldKillSwitch, true}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feature, gated := requiredFeature(tt.change)
			assert.Equal(t, tt.gated, gated)
			assert.Equal(t, tt.feature, feature)
		})
	}
}

func TestPatchNormalizeOrdersFields(t *testing.T) {
	changes, err := Patch{
		FieldAntiCensorship: true,
		FieldEncryption:     "ChaCha20-Poly1305",
		FieldProtocol:       models.ProtocolIKEv2,
	}.normalize()
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, FieldProtocol, changes[0].field)
	assert.Equal(t, models.ProtocolIKEv2, changes[0].value)
	assert.Equal(t, FieldEncryption, changes[1].field)
	assert.Equal(t, models.EncryptionChaCha20Poly1305, changes[1].value)
	assert.Equal(t, FieldAntiCensorship, changes[2].field)
}

func TestFieldTiers(t *testing.T) {
	assert.Equal(t, models.TierPremium, FieldDoubleVPN.MinimumTier())
	assert.Equal(t, models.TierPremium, FieldObfuscation.MinimumTier())
	assert.Equal(t, models.TierFree, FieldKillSwitch.MinimumTier())
	assert.True(t, FieldEncryption.Guarded())
	assert.False(t, FieldDNSLeakProtection.Guarded())
}
