package connection

import (
	"time"

	"vpnpanel/internal/storage/models"
)

// DisconnectReason describes the last transition to disconnected.
type DisconnectReason string

const (
	DisconnectNone    DisconnectReason = "none"
	DisconnectUser    DisconnectReason = "user"
	DisconnectDropped DisconnectReason = "dropped"
)

// ConnectionState is the full connection/settings view published to
// subscribers. Values handed out are copies; mutating them has no effect on
// the store.
type ConnectionState struct {
	Connected        bool
	ConnectTime      *time.Time
	DisconnectReason DisconnectReason

	Protocol   models.Protocol
	Encryption models.Encryption

	KillSwitch        bool
	DNSLeakProtection bool
	DoubleVPN         bool
	Obfuscation       bool
	AntiCensorship    bool

	SelectedServer   *models.ServerRef
	AvailableServers []models.ServerRef

	Subscription models.Tier
}

// DefaultState is the state before anything has been loaded.
func DefaultState() ConnectionState {
	return ConnectionState{
		DisconnectReason: DisconnectNone,
		Protocol:         models.ProtocolWireGuard,
		Encryption:       models.EncryptionAES256GCM,
		Subscription:     models.TierFree,
	}
}

// Bool returns the value of a boolean flag. Non-flag fields report false.
func (s ConnectionState) Bool(f Field) bool {
	b, _ := s.value(f).(bool)
	return b
}

// Value returns the current value of f.
func (s ConnectionState) Value(f Field) any {
	return s.value(f)
}

func (s *ConnectionState) value(f Field) any {
	switch f {
	case FieldProtocol:
		return s.Protocol
	case FieldEncryption:
		return s.Encryption
	case FieldKillSwitch:
		return s.KillSwitch
	case FieldDNSLeakProtection:
		return s.DNSLeakProtection
	case FieldDoubleVPN:
		return s.DoubleVPN
	case FieldObfuscation:
		return s.Obfuscation
	case FieldAntiCensorship:
		return s.AntiCensorship
	}
	return nil
}

// set stores a normalized value. It reports whether the state changed.
func (s *ConnectionState) set(f Field, v any) bool {
	if s.value(f) == v {
		return false
	}
	switch f {
	case FieldProtocol:
		s.Protocol = v.(models.Protocol)
	case FieldEncryption:
		s.Encryption = v.(models.Encryption)
	case FieldKillSwitch:
		s.KillSwitch = v.(bool)
	case FieldDNSLeakProtection:
		s.DNSLeakProtection = v.(bool)
	case FieldDoubleVPN:
		s.DoubleVPN = v.(bool)
	case FieldObfuscation:
		s.Obfuscation = v.(bool)
	case FieldAntiCensorship:
		s.AntiCensorship = v.(bool)
	default:
		return false
	}
	return true
}

// applyRecord copies every field present in a remote record, skipping the
// ones in skip. It reports whether anything changed.
func (s *ConnectionState) applyRecord(rec *models.Settings, skip map[Field]*Update) bool {
	changed := false
	for f := range fieldOrder {
		if _, busy := skip[f]; busy {
			continue
		}
		if v, ok := recordValue(rec, f); ok && s.set(f, v) {
			changed = true
		}
	}
	if rec.Subscription != "" {
		if tier, err := models.ParseTier(rec.Subscription); err == nil && tier != s.Subscription {
			s.Subscription = tier
			changed = true
		}
	}
	return changed
}

// recordValue extracts the normalized value of f from a remote record.
// Missing or unparseable values report ok=false.
func recordValue(rec *models.Settings, f Field) (any, bool) {
	switch f {
	case FieldProtocol:
		p, err := models.ParseProtocol(rec.EffectiveProtocol())
		return p, err == nil
	case FieldEncryption:
		e, err := models.ParseEncryption(rec.EffectiveEncryption())
		return e, err == nil
	}
	return rec.Flag(string(f))
}

// toRecord renders the state as a settings record for the local cache.
func (s *ConnectionState) toRecord() *models.Settings {
	return &models.Settings{
		Protocol:          string(s.Protocol),
		Encryption:        string(s.Encryption),
		KillSwitch:        models.Bool(s.KillSwitch),
		DNSLeakProtection: models.Bool(s.DNSLeakProtection),
		DoubleVPN:         models.Bool(s.DoubleVPN),
		Obfuscation:       models.Bool(s.Obfuscation),
		AntiCensorship:    models.Bool(s.AntiCensorship),
		Subscription:      string(s.Subscription),
	}
}

func (s ConnectionState) clone() ConnectionState {
	c := s
	if s.ConnectTime != nil {
		t := *s.ConnectTime
		c.ConnectTime = &t
	}
	if s.SelectedServer != nil {
		srv := *s.SelectedServer
		c.SelectedServer = &srv
	}
	c.AvailableServers = append([]models.ServerRef(nil), s.AvailableServers...)
	return c
}
