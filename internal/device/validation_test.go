package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"mac address", "B8:27:EB:80:3B:99", false},
		{"platform uuid", "5D4B5C2E-8F43-4E6B-9A8D-0C1E2F3A4B5C", false},
		{"empty", "", true},
		{"contains space", "AA BB", true},
		{"too long", strings.Repeat("A", maxIDLength+1), true},
		{"control char", "AA\x00BB", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidID) {
				t.Errorf("error %v should wrap ErrInvalidID", err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName(""); err != nil {
		t.Errorf("empty name should be valid, got %v", err)
	}
	if err := ValidateName("Kitchen Strip"); err != nil {
		t.Errorf("ValidateName() error = %v", err)
	}
	if err := ValidateName(strings.Repeat("x", maxNameLength+1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long name error = %v, want ErrInvalidName", err)
	}
	if err := ValidateName("bad\nname"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("control char error = %v, want ErrInvalidName", err)
	}
}

func TestNormalizeID(t *testing.T) {
	if got := NormalizeID("  b8:27:eb:80:3b:99 "); got != "B8:27:EB:80:3B:99" {
		t.Errorf("NormalizeID() = %q", got)
	}
}

func TestFilterServices(t *testing.T) {
	in := []Service{
		{UUID: GenericAccessUUID},
		{UUID: strings.ToUpper(GenericAttributeUUID)},
		{
			UUID: strings.ToUpper(LightControlServiceUUID),
			Characteristics: []Characteristic{
				{UUID: LightOnOffCharUUID},
				{UUID: LightColorCharUUID},
				{UUID: "0000aaaa-0000-1000-8000-00805f9b34fb"},
			},
		},
		{UUID: "0000180f-0000-1000-8000-00805f9b34fb", Label: "Battery"},
	}

	got := FilterServices(in)
	if len(got) != 2 {
		t.Fatalf("FilterServices() kept %d services, want 2", len(got))
	}

	light := got[0]
	if light.UUID != LightControlServiceUUID || light.Label != "Light Control Service" {
		t.Errorf("light service = %+v", light)
	}
	if light.Characteristics[0].Label != "On/Off" || light.Characteristics[1].Label != "Color Change" {
		t.Errorf("characteristic labels = %+v", light.Characteristics)
	}
	if light.Characteristics[2].Label != "" {
		t.Errorf("unknown characteristic should have no label, got %q", light.Characteristics[2].Label)
	}
	if got[1].Label != "Battery" {
		t.Errorf("existing label should be kept, got %q", got[1].Label)
	}
	if in[2].UUID != strings.ToUpper(LightControlServiceUUID) {
		t.Error("input must not be modified")
	}
}
