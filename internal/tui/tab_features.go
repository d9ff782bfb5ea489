package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/storage/models"
)

// featureFields lists the rows of the features tab in display order.
var featureFields = []connection.Field{
	connection.FieldProtocol,
	connection.FieldEncryption,
	connection.FieldKillSwitch,
	connection.FieldDNSLeakProtection,
	connection.FieldDoubleVPN,
	connection.FieldObfuscation,
	connection.FieldAntiCensorship,
}

var featureLabels = map[connection.Field]string{
	connection.FieldProtocol:          "Protocol",
	connection.FieldEncryption:        "Encryption",
	connection.FieldKillSwitch:        "Kill Switch",
	connection.FieldDNSLeakProtection: "DNS Leak Protection",
	connection.FieldDoubleVPN:         "Double VPN",
	connection.FieldObfuscation:       "Obfuscation",
	connection.FieldAntiCensorship:    "Anti-Censorship",
}

var featureDescriptions = map[connection.Field]string{
	connection.FieldProtocol:          "Tunnel protocol for the next connection",
	connection.FieldEncryption:        "Cipher requested from the VPN daemon",
	connection.FieldKillSwitch:        "Block traffic if the VPN drops unexpectedly",
	connection.FieldDNSLeakProtection: "Force DNS queries through the tunnel",
	connection.FieldDoubleVPN:         "Route through two servers",
	connection.FieldObfuscation:       "Disguise VPN traffic as regular HTTPS",
	connection.FieldAntiCensorship:    "Work around restrictive networks",
}

func featureLabel(f connection.Field) string {
	if l, ok := featureLabels[f]; ok {
		return l
	}
	return string(f)
}

type featuresModel struct {
	cursor int
	width  int
	height int
}

func newFeaturesModel() featuresModel {
	return featuresModel{}
}

func (fm *featuresModel) setSize(w, h int) {
	fm.width = w
	fm.height = h
}

func (fm *featuresModel) current() connection.Field {
	return featureFields[fm.cursor]
}

func (fm *featuresModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	f := fm.current()
	switch {
	case key.Matches(km, keys.Up):
		if fm.cursor > 0 {
			fm.cursor--
		}
	case key.Matches(km, keys.Down):
		if fm.cursor < len(featureFields)-1 {
			fm.cursor++
		}
	case key.Matches(km, keys.Toggle):
		if f.IsBool() {
			return requestToggle(root, f, !root.state.Bool(f))
		}
		return fm.cycle(root, 1)
	case key.Matches(km, keys.Prev):
		if !f.IsBool() {
			return fm.cycle(root, -1)
		}
	case key.Matches(km, keys.Next):
		if !f.IsBool() {
			return fm.cycle(root, 1)
		}
	}
	return nil
}

// cycle requests the next or previous choice of an enumerated setting.
func (fm *featuresModel) cycle(root *Model, dir int) tea.Cmd {
	f := fm.current()
	choices := fieldChoices(f)
	if len(choices) == 0 {
		return nil
	}
	cur := fmt.Sprint(root.state.Value(f))
	idx := 0
	for i, c := range choices {
		if c == cur {
			idx = i
			break
		}
	}
	idx = (idx + dir + len(choices)) % len(choices)
	return requestSetting(root, f, choices[idx])
}

func fieldChoices(f connection.Field) []string {
	var out []string
	switch f {
	case connection.FieldProtocol:
		for _, p := range models.Protocols {
			out = append(out, string(p))
		}
	case connection.FieldEncryption:
		for _, e := range models.Encryptions {
			out = append(out, string(e))
		}
	}
	return out
}

func (fm *featuresModel) View(root *Model) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Features"))
	b.WriteString("\n\n")

	st := root.state
	for i, f := range featureFields {
		selected := i == fm.cursor

		var label string
		if selected {
			label = lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Width(24).Render("> " + featureLabel(f))
		} else {
			label = lipgloss.NewStyle().Foreground(colorFg).Width(24).Render("  " + featureLabel(f))
		}

		var value string
		switch {
		case f.IsBool():
			value = onOff(st.Bool(f))
		case selected:
			value = renderChoices(fieldChoices(f), fmt.Sprint(st.Value(f)))
		default:
			value = dimStyle.Render(fmt.Sprint(st.Value(f)))
		}

		line := label + value
		if marker := featureMarker(f, st, root.access, root.busy[f]); marker != "" {
			line += "  " + marker
		}
		b.WriteString(line + "\n")

		if selected {
			hint := featureDescriptions[f]
			if f.IsBool() {
				hint += "  (space to toggle)"
			} else {
				hint += "  (arrows to change)"
			}
			b.WriteString(lipgloss.NewStyle().
				Foreground(colorDimFg).
				PaddingLeft(2).
				Render("  "+hint) + "\n")
		}
	}

	return forceHeight(b.String(), fm.width, fm.height)
}

// featureMarker describes why a row is busy or locked. access holds the
// last Feature-Access answers; missing keys are treated as granted.
func featureMarker(f connection.Field, st connection.ConnectionState, access map[string]bool, busy bool) string {
	switch {
	case busy:
		return busyStyle.Render("updating...")
	case !st.Subscription.AtLeast(f.MinimumTier()):
		return lockedStyle.Render(fmt.Sprintf("requires %s", f.MinimumTier()))
	case f.IsBool() && denied(f, access):
		return lockedStyle.Render("not granted")
	case f.Guarded() && st.Connected:
		return lockedStyle.Render("locked while connected")
	}
	return ""
}

// renderChoices renders the choice selector with the active choice highlighted.
func renderChoices(choices []string, current string) string {
	var parts []string
	for _, c := range choices {
		if c == current {
			parts = append(parts, lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPurple).
				Render("["+c+"]"))
		} else {
			parts = append(parts, lipgloss.NewStyle().
				Foreground(colorDimFg).
				Render(" "+c+" "))
		}
	}
	return strings.Join(parts, " ")
}

func denied(f connection.Field, access map[string]bool) bool {
	feature, gated := connection.FeatureFor(f, true)
	if !gated {
		return false
	}
	allowed, known := access[feature]
	return known && !allowed
}
