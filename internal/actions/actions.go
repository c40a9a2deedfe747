// Package actions maps the abstract action names accepted by the scheduler
// to concrete Home Assistant service calls.
package actions

// ServiceCall is a resolved Home Assistant service invocation. Data always
// carries entity_id; some actions add extra fields (e.g. hvac_mode).
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// catalog rows with an empty domain call the service on the entity's own
// domain (the part of the entity id before the dot).
type catalogEntry struct {
	domain  string
	service string
	extra   map[string]string
}

var catalog = map[string]catalogEntry{
	"on":       {service: "turn_on"},
	"off":      {service: "turn_off"},
	"toggle":   {service: "toggle"},
	"turn_off": {service: "turn_off"},

	"open_cover":  {domain: "cover", service: "open_cover"},
	"close_cover": {domain: "cover", service: "close_cover"},
	"stop_cover":  {domain: "cover", service: "stop_cover"},

	"media_play": {domain: "media_player", service: "media_play"},
	"media_stop": {domain: "media_player", service: "media_stop"},

	"start":          {domain: "vacuum", service: "start"},
	"return_to_base": {domain: "vacuum", service: "return_to_base"},

	"set_hvac_mode_heat": {domain: "climate", service: "set_hvac_mode", extra: map[string]string{"hvac_mode": "heat"}},
	"set_hvac_mode_cool": {domain: "climate", service: "set_hvac_mode", extra: map[string]string{"hvac_mode": "cool"}},
	"set_hvac_mode_auto": {domain: "climate", service: "set_hvac_mode", extra: map[string]string{"hvac_mode": "auto"}},
}

// Valid lists every accepted action name, in a stable order.
var Valid = []string{
	"on", "off", "toggle", "turn_off",
	"open_cover", "close_cover", "stop_cover",
	"media_play", "media_stop",
	"start", "return_to_base",
	"set_hvac_mode_heat", "set_hvac_mode_cool", "set_hvac_mode_auto",
}

// IsValid reports whether action is in the catalog.
func IsValid(action string) bool {
	_, ok := catalog[action]
	return ok
}

// Resolve returns the service call for an action against entityID. Unknown
// actions fall back to toggle on the entity's own domain.
func Resolve(entityID, action string) ServiceCall {
	entry, ok := catalog[action]
	if !ok {
		entry = catalogEntry{service: "toggle"}
	}

	domain := entry.domain
	if domain == "" {
		domain = entityDomain(entityID)
	}
	data := map[string]any{"entity_id": entityID}
	for k, v := range entry.extra {
		data[k] = v
	}
	return ServiceCall{Domain: domain, Service: entry.service, Data: data}
}

// Reverse returns the action scheduled after a run-now execution: on and off
// invert each other, everything else reverses to toggle.
func Reverse(action string) string {
	switch action {
	case "on":
		return "off"
	case "off":
		return "on"
	default:
		return "toggle"
	}
}

func entityDomain(entityID string) string {
	for i := 0; i < len(entityID); i++ {
		if entityID[i] == '.' {
			return entityID[:i]
		}
	}
	return entityID
}
