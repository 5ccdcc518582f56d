// Package geo maps client addresses to ISO 3166 alpha-2 country codes and
// country names from a static table.
//
// The table is YAML:
//
//	networks:
//	  - cidr: 81.2.69.0/24
//	    code: GB
//	countries:
//	  GB: United Kingdom
//
// Lookups pick the most specific matching network.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownAddress = errors.New("geo: address not in any network")
	ErrUnknownCountry = errors.New("geo: unknown country code")
)

type fileNetwork struct {
	CIDR string `yaml:"cidr"`
	Code string `yaml:"code"`
}

type file struct {
	Networks  []fileNetwork     `yaml:"networks"`
	Countries map[string]string `yaml:"countries"`
}

type network struct {
	prefix netip.Prefix
	code   string
}

// Table is an immutable lookup table. It satisfies session.Locator.
type Table struct {
	networks  []network
	countries map[string]string
}

// Load reads a table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geo: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("geo: decode: %w", err)
	}

	t := &Table{
		networks:  make([]network, 0, len(f.Networks)),
		countries: make(map[string]string, len(f.Countries)),
	}
	for code, name := range f.Countries {
		t.countries[strings.ToUpper(code)] = name
	}
	for i, n := range f.Networks {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(n.CIDR))
		if err != nil {
			return nil, fmt.Errorf("geo: network %d: %w", i, err)
		}
		if n.Code == "" {
			return nil, fmt.Errorf("geo: network %d: empty code", i)
		}
		t.networks = append(t.networks, network{prefix: prefix.Masked(), code: strings.ToUpper(n.Code)})
	}

	// longest prefix first so the first match is the most specific one
	sort.SliceStable(t.networks, func(i, j int) bool {
		return t.networks[i].prefix.Bits() > t.networks[j].prefix.Bits()
	})

	return t, nil
}

func (t *Table) CountryCode(_ context.Context, ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("geo: %w", err)
	}
	addr = addr.Unmap()

	for _, n := range t.networks {
		if n.prefix.Contains(addr) {
			return n.code, nil
		}
	}
	return "", ErrUnknownAddress
}

func (t *Table) CountryName(_ context.Context, code string) (string, error) {
	name, ok := t.countries[strings.ToUpper(code)]
	if !ok {
		return "", ErrUnknownCountry
	}
	return name, nil
}

// Len reports how many networks the table holds.
func (t *Table) Len() int { return len(t.networks) }
