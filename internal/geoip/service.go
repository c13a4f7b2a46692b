// Package geoip enriches reported instance IPs with location data. The
// service is optional: a nil *Service skips enrichment entirely.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"
)

// Service wraps a MaxMind database reader.
type Service struct {
	reader *geoip2.Reader
	log    zerolog.Logger
	mu     sync.RWMutex
}

// NewService opens the GeoIP database at dbPath.
func NewService(dbPath string, log zerolog.Logger) (*Service, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("GeoIP database loaded")
	return &Service{
		reader: reader,
		log:    log,
	}, nil
}

// Country returns the ISO country code for an IP, or "" when the address is
// unparseable or the lookup fails. Lookup failures are not errors worth
// failing a connect event over.
func (s *Service) Country(ipStr string) string {
	if s == nil {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	record, err := s.reader.Country(ip)
	if err != nil {
		s.log.Debug().Err(err).Str("ip", ipStr).Msg("GeoIP lookup failed")
		return ""
	}
	return record.Country.IsoCode
}

// Close closes the GeoIP database.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}
