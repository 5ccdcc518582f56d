package session

import (
	"context"
	"strings"
)

// Locator resolves client addresses to countries. Implementations may call
// out to external services; failures only blank the location label.
type Locator interface {
	CountryCode(ctx context.Context, ip string) (string, error)
	CountryName(ctx context.Context, code string) (string, error)
}

// LocationLabel renders "<country name>, <CODE>" for ip, or "" when the
// lookup is unavailable.
func LocationLabel(ctx context.Context, loc Locator, ip string) string {
	if loc == nil || ip == "" {
		return ""
	}

	code, err := loc.CountryCode(ctx, ip)
	if err != nil || code == "" {
		return ""
	}
	code = strings.ToUpper(code)

	name, err := loc.CountryName(ctx, code)
	if err != nil || name == "" {
		return ""
	}

	return name + ", " + code
}

// Decorate fills Location on every record in place.
func Decorate(ctx context.Context, loc Locator, records []Record) {
	if loc == nil {
		return
	}
	for i := range records {
		records[i].Location = LocationLabel(ctx, loc, records[i].IP)
	}
}
