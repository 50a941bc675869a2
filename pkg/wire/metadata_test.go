package wire

import "testing"

func TestMatchesZeroFilterIsWildcard(t *testing.T) {
	candidates := []ClientMetadata{
		{},
		{Component: ComponentDriver},
		{Protocols: ProtocolFlagSettings | ProtocolFlagDriverControl, Status: StatusHaltOnConnect},
		{Protocols: 0xFFFF, Component: ComponentTool, Status: 0xFFFFFFFF},
	}
	for _, c := range candidates {
		if !Matches(ClientMetadata{}, c) {
			t.Errorf("Matches(zero, %v) = false", c)
		}
	}
}

func TestMatchesReflexive(t *testing.T) {
	values := []ClientMetadata{
		{Component: ComponentDriver},
		{Protocols: ProtocolFlagSettings},
		{Protocols: ProtocolFlagDriverControl | ProtocolFlagLogging, Component: ComponentDriver, Status: StatusDeveloperModeEnabled},
	}
	for _, m := range values {
		if !Matches(m, m) {
			t.Errorf("Matches(%v, %v) = false", m, m)
		}
	}
}

func TestMatchesTable(t *testing.T) {
	driver := ClientMetadata{
		Protocols: ProtocolFlagSettings | ProtocolFlagDriverControl,
		Component: ComponentDriver,
		Status:    StatusDeveloperModeEnabled | StatusHaltOnConnect,
	}

	tests := []struct {
		name       string
		filter     ClientMetadata
		matches    bool
		matchesAny bool
	}{
		{"component equal", ClientMetadata{Component: ComponentDriver}, true, true},
		{"component differs", ClientMetadata{Component: ComponentTool}, false, false},
		{"protocol subset", ClientMetadata{Protocols: ProtocolFlagSettings}, true, true},
		{"protocol superset", ClientMetadata{Protocols: ProtocolFlagSettings | ProtocolFlagLogging}, false, true},
		{"protocol disjoint", ClientMetadata{Protocols: ProtocolFlagRGP}, false, false},
		{"status subset", ClientMetadata{Status: StatusHaltOnConnect}, true, true},
		{"status disjoint", ClientMetadata{Status: StatusPipelineDumpsEnabled}, false, false},
		{
			"all fields subset",
			ClientMetadata{Protocols: ProtocolFlagDriverControl, Component: ComponentDriver, Status: StatusDeveloperModeEnabled},
			true, true,
		},
		{
			"one field fails",
			ClientMetadata{Protocols: ProtocolFlagDriverControl, Component: ComponentTool},
			false, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.filter, driver); got != tt.matches {
				t.Errorf("Matches = %v, want %v", got, tt.matches)
			}
			if got := MatchesAny(tt.filter, driver); got != tt.matchesAny {
				t.Errorf("MatchesAny = %v, want %v", got, tt.matchesAny)
			}
		})
	}
}

func TestMetadataPacking(t *testing.T) {
	m := ClientMetadata{
		Protocols: ProtocolFlagSettings | ProtocolFlagDriverControl,
		Component: ComponentDriver,
		Status:    StatusHaltOnConnect | StatusGPUCrashDumpsEnabled,
	}
	packed := m.Pack()
	if packed&0xFF000000 != 0 {
		t.Errorf("reserved bits set in %#x", packed)
	}
	if got := UnpackMetadata(packed); got != m {
		t.Errorf("UnpackMetadata(%#x) = %v, want %v", packed, got, m)
	}

	var h MessageHeader
	h.SetMetadata(m)
	if h.Metadata() != m {
		t.Errorf("header metadata = %v, want %v", h.Metadata(), m)
	}
}

func TestProtocolFlag(t *testing.T) {
	if ProtocolDriverControl.Flag() != ProtocolFlagDriverControl {
		t.Errorf("DriverControl flag = %#x", ProtocolDriverControl.Flag())
	}
	if ProtocolSession.Flag() != 0 {
		t.Errorf("system protocol flag = %#x, want 0", ProtocolSession.Flag())
	}
}
