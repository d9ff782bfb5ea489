package models

import (
	"fmt"
	"strings"
	"time"
)

// Protocol is the VPN protocol used for the next connection.
type Protocol string

const (
	ProtocolOpenVPNTCP  Protocol = "openvpn_tcp"
	ProtocolOpenVPNUDP  Protocol = "openvpn_udp"
	ProtocolWireGuard   Protocol = "wireguard"
	ProtocolShadowsocks Protocol = "shadowsocks"
	ProtocolIKEv2       Protocol = "ikev2"
)

// Protocols lists every supported protocol in display order.
var Protocols = []Protocol{
	ProtocolWireGuard,
	ProtocolOpenVPNUDP,
	ProtocolOpenVPNTCP,
	ProtocolIKEv2,
	ProtocolShadowsocks,
}

// Encryption is the cipher suite requested from the VPN daemon.
type Encryption string

const (
	EncryptionAES128GCM        Encryption = "aes_128_gcm"
	EncryptionAES256GCM        Encryption = "aes_256_gcm"
	EncryptionChaCha20Poly1305 Encryption = "chacha20_poly1305"
)

// Encryptions lists every supported cipher in display order.
var Encryptions = []Encryption{
	EncryptionAES256GCM,
	EncryptionAES128GCM,
	EncryptionChaCha20Poly1305,
}

// Tier is the account's subscription plan.
type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierPremium  Tier = "premium"
	TierUltimate Tier = "ultimate"
)

var tierRank = map[Tier]int{
	TierFree:     0,
	TierBasic:    1,
	TierPremium:  2,
	TierUltimate: 3,
}

// AtLeast reports whether t is the same plan as min or a higher one.
// Unknown tiers rank below free.
func (t Tier) AtLeast(min Tier) bool {
	rank, ok := tierRank[t]
	if !ok {
		return false
	}
	return rank >= tierRank[min]
}

// normalize lowercases s and maps '-' and ' ' to '_' so "AES-256-GCM" and
// "aes_256_gcm" compare equal.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(normalize(s))
	for _, known := range Protocols {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// ParseEncryption parses a cipher name case-insensitively.
func ParseEncryption(s string) (Encryption, error) {
	e := Encryption(normalize(s))
	for _, known := range Encryptions {
		if e == known {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown encryption %q", s)
}

// ParseTier parses a plan name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(normalize(s))
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

// Settings is the remote settings record as served by GET/POST /settings.
// Protocol and encryption may arrive under either the canonical or the
// legacy "preferred" name.
type Settings struct {
	Protocol            string `json:"protocol,omitempty"`
	PreferredProtocol   string `json:"preferredProtocol,omitempty"`
	Encryption          string `json:"encryption,omitempty"`
	PreferredEncryption string `json:"preferredEncryption,omitempty"`

	// Flags are pointers so a partial response can be told apart from an
	// explicit false.
	KillSwitch        *bool `json:"killSwitch,omitempty"`
	DNSLeakProtection *bool `json:"dnsLeakProtection,omitempty"`
	DoubleVPN         *bool `json:"doubleVpn,omitempty"`
	Obfuscation       *bool `json:"obfuscation,omitempty"`
	AntiCensorship    *bool `json:"antiCensorship,omitempty"`

	Subscription string `json:"subscription,omitempty"`

	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// EffectiveProtocol returns the canonical protocol, falling back to the
// legacy field name.
func (s *Settings) EffectiveProtocol() string {
	if s.Protocol != "" {
		return s.Protocol
	}
	return s.PreferredProtocol
}

// EffectiveEncryption returns the canonical encryption, falling back to the
// legacy field name.
func (s *Settings) EffectiveEncryption() string {
	if s.Encryption != "" {
		return s.Encryption
	}
	return s.PreferredEncryption
}

// Flag returns the boolean setting stored under its wire name and whether
// the record carried it at all.
func (s *Settings) Flag(name string) (value, ok bool) {
	var p *bool
	switch name {
	case "killSwitch":
		p = s.KillSwitch
	case "dnsLeakProtection":
		p = s.DNSLeakProtection
	case "doubleVpn":
		p = s.DoubleVPN
	case "obfuscation":
		p = s.Obfuscation
	case "antiCensorship":
		p = s.AntiCensorship
	}
	if p == nil {
		return false, false
	}
	return *p, true
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
