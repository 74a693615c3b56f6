package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type advisoryAsset struct {
	Name         string
	Hostname     string
	SerialNumber string
}

type advisoryGroup struct {
	Key string
}

type advisoryVuln struct {
	Name     string
	CVE      string
	Severity string
}

func TestRenderAdvisory(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	out, err := engine.Render("advisory.tmpl", map[string]any{
		"Asset":       advisoryAsset{Name: "Infusion Pump 12", Hostname: "pump-12.icu.local"},
		"Group":       advisoryGroup{Key: "infusion-pump"},
		"GeneratedAt": time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		"Vulnerabilities": []advisoryVuln{
			{Name: "Telnet enabled by default", CVE: "CVE-2025-0001", Severity: "critical"},
			{Name: "Weak TLS ciphers", Severity: "medium"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Asset:          Infusion Pump 12")
	assert.Contains(t, out, "Classification: infusion-pump")
	assert.Contains(t, out, "Hostname:       pump-12.icu.local")
	assert.NotContains(t, out, "Serial:")
	assert.Contains(t, out, "Generated:      2026-05-01 12:00:00 UTC")
	assert.Contains(t, out, "Known vulnerabilities for this device class: 2")
	assert.Contains(t, out, "- Telnet enabled by default (CVE-2025-0001) [CRITICAL]")
	assert.Contains(t, out, "- Weak TLS ciphers [MEDIUM]")
}

func TestRenderEmptyVulnerabilityList(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	out, err := engine.Render("advisory.tmpl", map[string]any{
		"Asset":           advisoryAsset{Name: "Ventilator 3"},
		"Group":           advisoryGroup{Key: "ventilator"},
		"GeneratedAt":     time.Now().UTC(),
		"Vulnerabilities": []advisoryVuln{},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "No vulnerabilities are currently recorded")
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	_, err = engine.Render("missing.tmpl", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}
