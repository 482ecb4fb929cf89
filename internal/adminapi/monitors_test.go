package adminapi

import (
	"testing"

	"github.com/probelab/synthmon/internal/domain"
)

func TestMonitorPayloadValidate(t *testing.T) {
	base := func() monitorPayload {
		return monitorPayload{
			Name:         "checkout page",
			URL:          "https://shop.example.com/checkout",
			ScheduleCron: "*/5 * * * *",
		}
	}

	t.Run("defaults timeout", func(t *testing.T) {
		p := base()
		if err := p.validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.TimeoutSeconds != domain.DefaultTimeoutSeconds {
			t.Fatalf("timeout defaulted to %d, want %d", p.TimeoutSeconds, domain.DefaultTimeoutSeconds)
		}
	})

	t.Run("trims name", func(t *testing.T) {
		p := base()
		p.Name = "  checkout page  "
		if err := p.validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "checkout page" {
			t.Fatalf("name = %q, want trimmed", p.Name)
		}
	})

	bad := []struct {
		name   string
		mutate func(*monitorPayload)
	}{
		{"empty name", func(p *monitorPayload) { p.Name = "   " }},
		{"name too long", func(p *monitorPayload) {
			for len(p.Name) <= 255 {
				p.Name += "x"
			}
		}},
		{"relative url", func(p *monitorPayload) { p.URL = "/checkout" }},
		{"ftp url", func(p *monitorPayload) { p.URL = "ftp://example.com" }},
		{"bad cron", func(p *monitorPayload) { p.ScheduleCron = "every five minutes" }},
		{"six-field cron", func(p *monitorPayload) { p.ScheduleCron = "0 */5 * * * *" }},
		{"timeout below minimum", func(p *monitorPayload) { p.TimeoutSeconds = 2 }},
		{"timeout above maximum", func(p *monitorPayload) { p.TimeoutSeconds = 301 }},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.mutate(&p)
			if err := p.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
