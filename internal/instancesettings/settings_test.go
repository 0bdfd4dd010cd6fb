package instancesettings

import (
	"net"
	"runtime"
	"testing"

	"factorio-instanced/internal/factorioversion"
)

func TestNewDefaults(t *testing.T) {
	s := New(factorioversion.MustParse("1.1.110"), "myworld")

	if s.Save != "myworld" {
		t.Errorf("Save = %q; want myworld", s.Save)
	}
	if !s.Host.Equal(net.IPv4zero) || !s.RconHost.Equal(net.IPv4zero) {
		t.Errorf("Host/RconHost = %v/%v; want 0.0.0.0", s.Host, s.RconHost)
	}
	if s.Port != 34197 {
		t.Errorf("Port = %d; want 34197", s.Port)
	}
	if s.RconPort != 0 {
		t.Errorf("RconPort = %d; want 0 (ephemeral at start time)", s.RconPort)
	}
	if s.RconPass == "" {
		t.Error("RconPass is empty; want a generated password")
	}
	if s.SavesPath != "saves" {
		t.Errorf("SavesPath = %q; want saves", s.SavesPath)
	}

	wantExec := "bin/x64/factorio"
	if runtime.GOOS == "windows" {
		wantExec = "bin/x64/factorio.exe"
	}
	if s.ExecutablePath != wantExec {
		t.Errorf("ExecutablePath = %q; want %q", s.ExecutablePath, wantExec)
	}
}

func TestNewGeneratesDistinctPasswords(t *testing.T) {
	a := New(factorioversion.MustParse("1.1.110"), "a")
	b := New(factorioversion.MustParse("1.1.110"), "b")
	if a.RconPass == b.RconPass {
		t.Error("two New() calls produced the same RconPass")
	}
}

func TestWithersOverrideIndependently(t *testing.T) {
	base := New(factorioversion.MustParse("1.1.110"), "myworld")

	mods := []Mod{{Name: "Bottleneck", Version: "1.0.0"}}
	withMods := base.WithMods(mods)
	if len(base.Mods) != 0 {
		t.Error("WithMods mutated the receiver's copy")
	}
	if len(withMods.Mods) != 1 || withMods.Mods[0].Name != "Bottleneck" {
		t.Errorf("WithMods.Mods = %v", withMods.Mods)
	}

	withPort := base.WithPort(12345).WithRconPort(27015).WithRconPass("secret")
	if withPort.Port != 12345 || withPort.RconPort != 27015 || withPort.RconPass != "secret" {
		t.Errorf("chained withers did not all apply: %+v", withPort)
	}
	if base.Port == 12345 {
		t.Error("WithPort mutated the receiver")
	}

	withBase := base.WithBaseMods(BaseMods{Base: true, Quality: true})
	if !withBase.BaseMods.Base || !withBase.BaseMods.Quality || withBase.BaseMods.SpaceAge {
		t.Errorf("WithBaseMods = %+v", withBase.BaseMods)
	}
}

func TestRconAddrFormatsHostAndPort(t *testing.T) {
	s := New(factorioversion.MustParse("1.1.110"), "myworld").
		WithRconHost(net.ParseIP("127.0.0.1")).
		WithRconPort(27015)

	if got, want := s.RconAddr(), "127.0.0.1:27015"; got != want {
		t.Errorf("RconAddr() = %q; want %q", got, want)
	}
}
