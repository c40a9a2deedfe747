package actions

import "testing"

func TestResolveKnownActions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action  string
		domain  string
		service string
	}{
		{"on", "light", "turn_on"},
		{"off", "light", "turn_off"},
		{"toggle", "light", "toggle"},
		{"turn_off", "light", "turn_off"},
		{"open_cover", "cover", "open_cover"},
		{"close_cover", "cover", "close_cover"},
		{"stop_cover", "cover", "stop_cover"},
		{"media_play", "media_player", "media_play"},
		{"media_stop", "media_player", "media_stop"},
		{"start", "vacuum", "start"},
		{"return_to_base", "vacuum", "return_to_base"},
	}
	for _, tt := range tests {
		call := Resolve("light.kitchen", tt.action)
		if call.Domain != tt.domain || call.Service != tt.service {
			t.Fatalf("Resolve(%q) = %s.%s, want %s.%s", tt.action, call.Domain, call.Service, tt.domain, tt.service)
		}
		if call.Data["entity_id"] != "light.kitchen" {
			t.Fatalf("Resolve(%q): entity_id missing from data", tt.action)
		}
	}
}

func TestResolveClimateCarriesHvacMode(t *testing.T) {
	t.Parallel()
	call := Resolve("climate.living_room", "set_hvac_mode_heat")
	if call.Domain != "climate" || call.Service != "set_hvac_mode" {
		t.Fatalf("unexpected call %s.%s", call.Domain, call.Service)
	}
	if call.Data["hvac_mode"] != "heat" {
		t.Fatalf("hvac_mode = %v, want heat", call.Data["hvac_mode"])
	}
}

func TestResolveUnknownFallsBackToToggle(t *testing.T) {
	t.Parallel()
	call := Resolve("switch.fan", "summon")
	if call.Domain != "switch" || call.Service != "toggle" {
		t.Fatalf("Resolve(unknown) = %s.%s, want switch.toggle", call.Domain, call.Service)
	}
}

func TestReverse(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"on", "off"},
		{"off", "on"},
		{"toggle", "toggle"},
		{"open_cover", "toggle"},
		{"media_play", "toggle"},
	}
	for _, tt := range tests {
		if got := Reverse(tt.in); got != tt.want {
			t.Fatalf("Reverse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEveryValidActionResolves(t *testing.T) {
	t.Parallel()
	for _, action := range Valid {
		if !IsValid(action) {
			t.Fatalf("action %q not valid", action)
		}
		call := Resolve("light.kitchen", action)
		if call.Service == "" {
			t.Fatalf("action %q resolved to empty service", action)
		}
	}
	if IsValid("summon") {
		t.Fatal("unknown action reported valid")
	}
}
