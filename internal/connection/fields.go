package connection

import (
	"fmt"
	"sort"

	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

// Field names a mutable setting. The value is the settings API wire name.
type Field string

const (
	FieldProtocol          Field = "protocol"
	FieldEncryption        Field = "encryption"
	FieldKillSwitch        Field = "killSwitch"
	FieldDNSLeakProtection Field = "dnsLeakProtection"
	FieldDoubleVPN         Field = "doubleVpn"
	FieldObfuscation       Field = "obfuscation"
	FieldAntiCensorship    Field = "antiCensorship"
)

// fieldOrder fixes the iteration order used for requests, logs and journals.
var fieldOrder = map[Field]int{
	FieldProtocol:          0,
	FieldEncryption:        1,
	FieldKillSwitch:        2,
	FieldDNSLeakProtection: 3,
	FieldDoubleVPN:         4,
	FieldObfuscation:       5,
	FieldAntiCensorship:    6,
}

// BoolFields are the independently togglable feature flags.
var BoolFields = []Field{
	FieldKillSwitch,
	FieldDNSLeakProtection,
	FieldDoubleVPN,
	FieldObfuscation,
	FieldAntiCensorship,
}

// ParseField resolves a wire name or a common alias.
func ParseField(s string) (Field, error) {
	switch s {
	case "protocol":
		return FieldProtocol, nil
	case "encryption":
		return FieldEncryption, nil
	case "killSwitch", "kill-switch", "killswitch":
		return FieldKillSwitch, nil
	case "dnsLeakProtection", "dns-leak-protection", "dns":
		return FieldDNSLeakProtection, nil
	case "doubleVpn", "double-vpn", "doublevpn":
		return FieldDoubleVPN, nil
	case "obfuscation":
		return FieldObfuscation, nil
	case "antiCensorship", "anti-censorship":
		return FieldAntiCensorship, nil
	}
	return "", fmt.Errorf("%w: %q", pkgerrors.ErrUnknownField, s)
}

// IsBool reports whether f holds a boolean flag.
func (f Field) IsBool() bool {
	switch f {
	case FieldKillSwitch, FieldDNSLeakProtection, FieldDoubleVPN, FieldObfuscation, FieldAntiCensorship:
		return true
	}
	return false
}

// Guarded reports whether f is frozen while connected.
func (f Field) Guarded() bool {
	switch f {
	case FieldProtocol, FieldEncryption, FieldDoubleVPN, FieldObfuscation:
		return true
	}
	return false
}

// MinimumTier is the lowest plan on which a control for f is offered.
// The Feature-Access API stays authoritative.
func (f Field) MinimumTier() models.Tier {
	switch f {
	case FieldDoubleVPN, FieldObfuscation:
		return models.TierPremium
	}
	return models.TierFree
}

// Patch is a partial set of field/value pairs. Values are bool for flags and
// models.Protocol, models.Encryption or their string names otherwise.
type Patch map[Field]any

// Set returns a single-field patch.
func Set(f Field, v any) Patch {
	return Patch{f: v}
}

// With adds f=v to the patch and returns it.
func (p Patch) With(f Field, v any) Patch {
	p[f] = v
	return p
}

type change struct {
	field Field
	value any // bool, models.Protocol or models.Encryption
}

// normalize validates p and returns its changes in field order.
func (p Patch) normalize() ([]change, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty patch", pkgerrors.ErrInvalidValue)
	}

	changes := make([]change, 0, len(p))
	for f, v := range p {
		nv, err := normalizeValue(f, v)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change{field: f, value: nv})
	}
	sort.Slice(changes, func(i, j int) bool {
		return fieldOrder[changes[i].field] < fieldOrder[changes[j].field]
	})
	return changes, nil
}

func normalizeValue(f Field, v any) (any, error) {
	switch f {
	case FieldProtocol, FieldEncryption:
		var name string
		switch x := v.(type) {
		case models.Protocol:
			name = string(x)
		case models.Encryption:
			name = string(x)
		case string:
			name = x
		default:
			return nil, fmt.Errorf("%w: %s cannot be %T", pkgerrors.ErrInvalidValue, f, v)
		}
		var (
			parsed any
			err    error
		)
		if f == FieldProtocol {
			parsed, err = models.ParseProtocol(name)
		} else {
			parsed, err = models.ParseEncryption(name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidValue, err)
		}
		return parsed, nil
	}

	if !f.IsBool() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownField, string(f))
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot be %T", pkgerrors.ErrInvalidValue, f, v)
	}
	return b, nil
}

// GatedFeatures lists the Feature-Access keys guarding premium choices.
var GatedFeatures = []string{"shadowsocks", "premium_encryption", "obfuscation", "double_vpn"}

// FeatureFor returns the Feature-Access key guarding f = v, if any.
func FeatureFor(f Field, v any) (string, bool) {
	nv, err := normalizeValue(f, v)
	if err != nil {
		return "", false
	}
	return requiredFeature(change{field: f, value: nv})
}

// requiredFeature returns the Feature-Access key that must be granted before
// the change is applied. Turning a feature off is never gated.
func requiredFeature(c change) (string, bool) {
	switch c.field {
	case FieldProtocol:
		if c.value == models.ProtocolShadowsocks {
			return "shadowsocks", true
		}
	case FieldEncryption:
		if c.value == models.EncryptionChaCha20Poly1305 {
			return "premium_encryption", true
		}
	case FieldObfuscation:
		if c.value == true {
			return "obfuscation", true
		}
	case FieldDoubleVPN:
		if c.value == true {
			return "double_vpn", true
		}
	}
	return "", false
}

// wireValue converts a normalized value to its JSON representation.
func wireValue(v any) any {
	switch x := v.(type) {
	case models.Protocol:
		return string(x)
	case models.Encryption:
		return string(x)
	}
	return v
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return names
}
