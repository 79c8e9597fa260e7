package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)

func TestVersions(t *testing.T) {
	for name, v := range map[string]string{
		"Version":         Version,
		"ContractVersion": ContractVersion,
	} {
		if !semver.MatchString(v) {
			t.Errorf("%s %q is not a bare semver", name, v)
		}
	}
	if ContractVersion != Version {
		t.Errorf("ContractVersion = %q, want %q", ContractVersion, Version)
	}
}

func TestTransportNames(t *testing.T) {
	if TransportTCP == TransportQUIC {
		t.Fatal("transport names must differ")
	}
	if TransportTCP != "tcp" || TransportQUIC != "quic" {
		t.Errorf("transport names = %q, %q; config and flags accept tcp and quic", TransportTCP, TransportQUIC)
	}
}
