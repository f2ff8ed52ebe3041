package busmodel

import "testing"

func TestBusTargetValidate(t *testing.T) {
	cases := []struct {
		name    string
		target  BusTarget
		wantErr bool
	}{
		{"bare name", BusTarget{Name: "org.freedesktop.Example"}, false},
		{"name + object", BusTarget{Name: "org.freedesktop.Example", ObjectPath: "/obj"}, false},
		{"name + object + interface", BusTarget{Name: "org.freedesktop.Example", ObjectPath: "/obj", Interface: "org.freedesktop.Example.Iface"}, false},
		{"name + object + interface + method", BusTarget{Name: "org.freedesktop.Example", ObjectPath: "/obj", Interface: "org.freedesktop.Example.Iface", Method: "DoThing"}, false},
		{"no name", BusTarget{ObjectPath: "/obj"}, true},
		{"interface without object", BusTarget{Name: "org.freedesktop.Example", Interface: "org.freedesktop.Example.Iface"}, true},
		{"method without interface", BusTarget{Name: "org.freedesktop.Example", ObjectPath: "/obj", Method: "DoThing"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.target.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestBusTargetHasHelpers(t *testing.T) {
	target := BusTarget{Name: "org.freedesktop.Example", ObjectPath: "/obj", Interface: "org.freedesktop.Example.Iface"}
	if !target.HasObjectPath() || !target.HasInterface() || target.HasMethod() {
		t.Fatalf("unexpected Has* results for %+v", target)
	}
}
