package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/ventoline/smartac-core/internal/device"
)

func TestClassify_StateTopic(t *testing.T) {
	c := New("smart_ac")

	tests := []struct {
		name    string
		topic   string
		payload string
		want    InboundMessage
	}{
		{
			name:    "full status report",
			topic:   "smart_ac/AA:BB:CC:DD:EE:FF/state",
			payload: `{"power": true, "temperature": 22, "mode": "cool"}`,
			want: InboundMessage{
				Kind:        KindStatus,
				ExternalID:  "AA:BB:CC:DD:EE:FF",
				Power:       ptrBool(true),
				Temperature: ptrInt(22),
				Mode:        ptrString("cool"),
			},
		},
		{
			name:    "temp alias normalized",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"temp": 19}`,
			want: InboundMessage{
				Kind:        KindStatus,
				ExternalID:  "AA:BB",
				Temperature: ptrInt(19),
			},
		},
		{
			name:    "canonical temperature wins over alias",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"temperature": 21, "temp": 27}`,
			want: InboundMessage{
				Kind:        KindStatus,
				ExternalID:  "AA:BB",
				Temperature: ptrInt(21),
			},
		},
		{
			name:    "topic identity wins over payload identity",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"device_id": "11:22", "power": false}`,
			want: InboundMessage{
				Kind:       KindStatus,
				ExternalID: "AA:BB",
				Power:      ptrBool(false),
			},
		},
		{
			name:    "explicit discovery type on state topic",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"type": "discovery", "name": "Sala", "brand": "lg"}`,
			want: InboundMessage{
				Kind:       KindDiscovery,
				ExternalID: "AA:BB",
				Name:       "Sala",
				Brand:      "lg",
			},
		},
		{
			name:    "bare payload on state topic is discovery-shaped",
			topic:   "smart_ac/AA:BB/state",
			payload: `{}`,
			want: InboundMessage{
				Kind:       KindDiscovery,
				ExternalID: "AA:BB",
			},
		},
		{
			name:    "mode lowercased",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"mode": "HEAT"}`,
			want: InboundMessage{
				Kind:       KindStatus,
				ExternalID: "AA:BB",
				Mode:       ptrString("heat"),
			},
		},
		{
			name:    "unrecognised power spelling drops only that field",
			topic:   "smart_ac/AA:BB/state",
			payload: `{"power": "banana", "temperature": 21, "mode": "cool"}`,
			want: InboundMessage{
				Kind:        KindStatus,
				ExternalID:  "AA:BB",
				Temperature: ptrInt(21),
				Mode:        ptrString("cool"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.topic, []byte(tt.payload))
			assertMessage(t, got, tt.want)
		})
	}
}

func TestClassify_DiscoveryTopic(t *testing.T) {
	c := New("smart_ac")

	tests := []struct {
		name    string
		payload string
		want    InboundMessage
	}{
		{
			name:    "announcement with externalId",
			payload: `{"externalId": "AA:BB", "name": "Quarto", "brand": "samsung"}`,
			want: InboundMessage{
				Kind:       KindDiscovery,
				ExternalID: "AA:BB",
				Name:       "Quarto",
				Brand:      "samsung",
			},
		},
		{
			name:    "device_id alias accepted",
			payload: `{"device_id": "CC:DD"}`,
			want:    InboundMessage{Kind: KindDiscovery, ExternalID: "CC:DD"},
		},
		{
			name:    "deviceName alias accepted",
			payload: `{"external_id": "CC:DD", "deviceName": "Escritorio"}`,
			want:    InboundMessage{Kind: KindDiscovery, ExternalID: "CC:DD", Name: "Escritorio"},
		},
		{
			name:    "status shape over discovery topic",
			payload: `{"externalId": "AA:BB", "power": "on", "temp": "23"}`,
			want: InboundMessage{
				Kind:        KindStatus,
				ExternalID:  "AA:BB",
				Power:       ptrBool(true),
				Temperature: ptrInt(23),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify("smart_ac/discovery", []byte(tt.payload))
			assertMessage(t, got, tt.want)
		})
	}
}

func TestClassify_Malformed(t *testing.T) {
	c := New("smart_ac")

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"broken json", "smart_ac/AA:BB/state", `{"power": tru`},
		{"missing identity on discovery", "smart_ac/discovery", `{"brand": "lg"}`},
		{"blank identity on discovery", "smart_ac/discovery", `{"externalId": "   "}`},
		{"foreign topic", "other_ns/AA:BB/state", `{}`},
		{"non-object payload", "smart_ac/AA:BB/state", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.topic, []byte(tt.payload))
			if got.Kind != KindMalformed {
				t.Fatalf("Kind = %v, want malformed", got.Kind)
			}
			if got.Reason == "" {
				t.Error("malformed message carries no reason")
			}
		})
	}
}

func TestClassify_OutboundFamilies(t *testing.T) {
	c := New("smart_ac")

	if got := c.Classify("smart_ac/AA:BB/command", []byte(`{}`)); got.Kind != KindCommand {
		t.Errorf("command topic Kind = %v, want command", got.Kind)
	}
	if got := c.Classify("smart_ac/AA:BB/config", []byte(`{}`)); got.Kind != KindConfig {
		t.Errorf("config topic Kind = %v, want config", got.Kind)
	}
}

func TestBuildCommandPayload(t *testing.T) {
	d := &device.Device{
		ExternalID:  "AA:BB",
		Name:        "Sala",
		Brand:       device.BrandDaikin,
		Power:       true,
		Temperature: 22,
		Mode:        device.ModeCool,
	}

	payload, err := BuildCommandPayload(d)
	if err != nil {
		t.Fatalf("BuildCommandPayload() error = %v", err)
	}

	want := `{"power":true,"temperature":22,"mode":"cool","brand":"daikin"}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildCommandPayload_ClampsAndHidesCredentials(t *testing.T) {
	d := &device.Device{
		ExternalID:   "AA:BB",
		Brand:        device.BrandGeneric,
		Temperature:  99,
		Mode:         device.ModeAuto,
		WifiSSID:     "home-net",
		WifiPassword: "hunter2",
	}

	payload, err := BuildCommandPayload(d)
	if err != nil {
		t.Fatalf("BuildCommandPayload() error = %v", err)
	}

	s := string(payload)
	if !strings.Contains(s, `"temperature":30`) {
		t.Errorf("setpoint not clamped: %s", s)
	}
	for _, leak := range []string{"home-net", "hunter2", "ssid", "password"} {
		if strings.Contains(s, leak) {
			t.Errorf("command payload leaks credentials (%q): %s", leak, s)
		}
	}
}

func TestBuildConfigPayload(t *testing.T) {
	d := &device.Device{
		ExternalID:   "AA:BB",
		Name:         "Sala",
		Brand:        device.BrandGree,
		WifiSSID:     "home-net",
		WifiPassword: "hunter2",
	}

	payload, err := BuildConfigPayload(d)
	if err != nil {
		t.Fatalf("BuildConfigPayload() error = %v", err)
	}

	want := `{"type":"wifi_config","ssid":"home-net","password":"hunter2","deviceName":"Sala","brand":"gree"}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestBuildConfigPayload_NoCredentials(t *testing.T) {
	d := &device.Device{ExternalID: "AA:BB", Name: "Sala"}

	_, err := BuildConfigPayload(d)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("BuildConfigPayload() error = %v, want ErrMissingCredentials", err)
	}
}

func assertMessage(t *testing.T, got, want InboundMessage) {
	t.Helper()

	if got.Kind != want.Kind {
		t.Errorf("Kind = %v, want %v", got.Kind, want.Kind)
	}
	if got.ExternalID != want.ExternalID {
		t.Errorf("ExternalID = %q, want %q", got.ExternalID, want.ExternalID)
	}
	if got.Name != want.Name {
		t.Errorf("Name = %q, want %q", got.Name, want.Name)
	}
	if got.Brand != want.Brand {
		t.Errorf("Brand = %q, want %q", got.Brand, want.Brand)
	}
	assertPtrBool(t, "Power", got.Power, want.Power)
	assertPtrInt(t, "Temperature", got.Temperature, want.Temperature)
	assertPtrString(t, "Mode", got.Mode, want.Mode)
}

func assertPtrBool(t *testing.T, field string, got, want *bool) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Errorf("%s presence = %v, want %v", field, got != nil, want != nil)
		return
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %v, want %v", field, *got, *want)
	}
}

func assertPtrInt(t *testing.T, field string, got, want *int) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Errorf("%s presence = %v, want %v", field, got != nil, want != nil)
		return
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %v, want %v", field, *got, *want)
	}
}

func assertPtrString(t *testing.T, field string, got, want *string) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Errorf("%s presence = %v, want %v", field, got != nil, want != nil)
		return
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %q, want %q", field, *got, *want)
	}
}

func ptrBool(b bool) *bool       { return &b }
func ptrInt(i int) *int          { return &i }
func ptrString(s string) *string { return &s }
