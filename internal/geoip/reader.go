package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Provider resolves IP addresses to countries.
type Provider struct {
	db *geoip2.Reader
}

// Open loads the MMDB file at path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close releases the database. Safe on a nil Provider.
func (p *Provider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// GetCountryCode returns the ISO code for ipStr. Private, invalid and
// unknown addresses yield "". Safe on a nil Provider.
func (p *Provider) GetCountryCode(ipStr string) string {
	if p == nil || p.db == nil {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return ""
	}

	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}
