package device

import "strings"

// Well-known GATT service UUIDs.
const (
	GenericAccessUUID    = "00001800-0000-1000-8000-00805f9b34fb"
	GenericAttributeUUID = "00001801-0000-1000-8000-00805f9b34fb"
)

// Light-control profile UUIDs.
const (
	LightControlServiceUUID = "12345678-1234-5678-1234-56789abcdef0"
	LightOnOffCharUUID      = "12345678-1234-5678-1234-56789abcdef1"
	LightColorCharUUID      = "12345678-1234-5678-1234-56789abcdef2"
)

var knownLabels = map[string]string{
	LightControlServiceUUID: "Light Control Service",
	LightOnOffCharUUID:      "On/Off",
	LightColorCharUUID:      "Color Change",
}

// LabelFor returns a human label for a known service or characteristic
// UUID, or "" if the UUID is not recognised.
func LabelFor(uuid string) string {
	return knownLabels[strings.ToLower(uuid)]
}

// isGenericService reports whether uuid is one of the GAP/GATT services
// every peripheral exposes.
func isGenericService(uuid string) bool {
	u := strings.ToLower(uuid)
	return u == GenericAccessUUID || u == GenericAttributeUUID
}

// FilterServices drops the generic GAP/GATT services, normalises UUIDs to
// lower case and fills in labels for known UUIDs. The input is not modified.
func FilterServices(services []Service) []Service {
	out := make([]Service, 0, len(services))
	for _, s := range services {
		if isGenericService(s.UUID) {
			continue
		}
		svc := Service{
			UUID:  strings.ToLower(s.UUID),
			Label: s.Label,
		}
		if svc.Label == "" {
			svc.Label = LabelFor(svc.UUID)
		}
		for _, c := range s.Characteristics {
			ch := Characteristic{UUID: strings.ToLower(c.UUID), Label: c.Label}
			if ch.Label == "" {
				ch.Label = LabelFor(ch.UUID)
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out = append(out, svc)
	}
	return out
}
