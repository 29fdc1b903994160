// Package period maps wall-clock instants to the civil date a market
// covers. All arithmetic is zone-aware: the resolver works on civil date
// components in the reference zone, never on fixed UTC offsets, so
// daylight-saving transitions cannot double-count or skip a period.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is a market period identifier: a civil date rendered at midnight
// UTC. Using a time.Time keeps it directly storable and comparable.
type Date = time.Time

// Resolver deterministically maps an instant to the period it belongs to.
// With a cutover of "15:30" a market conceptually runs from 15:30 one day
// to 15:30 the next, so instants before the cutover belong to the previous
// civil date. A zero cutover means plain midnight-to-midnight periods.
type Resolver struct {
	zone       *time.Location
	cutoverMin int // minutes after midnight; 0 = midnight boundary
}

// NewResolver builds a Resolver for the named IANA zone and an optional
// "HH:MM" cutover. An empty cutover selects midnight.
func NewResolver(zoneName, cutover string) (*Resolver, error) {
	zone, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("period: load zone %q: %w", zoneName, err)
	}

	minutes := 0
	if cutover != "" {
		minutes, err = parseCutover(cutover)
		if err != nil {
			return nil, err
		}
	}

	return &Resolver{zone: zone, cutoverMin: minutes}, nil
}

// parseCutover parses "HH:MM" into minutes after midnight.
func parseCutover(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("period: invalid cutover %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("period: invalid cutover hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("period: invalid cutover minute in %q", s)
	}
	return hour*60 + minute, nil
}

// Zone returns the resolver's reference zone.
func (r *Resolver) Zone() *time.Location {
	return r.zone
}

// PeriodFor returns the period the given instant belongs to.
func (r *Resolver) PeriodFor(t time.Time) Date {
	local := t.In(r.zone)
	year, month, day := local.Date()
	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	if local.Hour()*60+local.Minute() < r.cutoverMin {
		date = date.AddDate(0, 0, -1)
	}
	return date
}

// Previous returns the period immediately before p.
func (r *Resolver) Previous(p Date) Date {
	return p.AddDate(0, 0, -1)
}

// Next returns the period immediately after p.
func (r *Resolver) Next(p Date) Date {
	return p.AddDate(0, 0, 1)
}

// Format renders a period as YYYY-MM-DD.
func Format(p Date) string {
	return p.Format("2006-01-02")
}

// MarketID composes the market identifier for an underlying and period,
// e.g. "BTC-2026-08-29". The composition is reversible via ParseMarketID.
func MarketID(underlying string, p Date) string {
	return strings.ToUpper(underlying) + "-" + Format(p)
}

// ParseMarketID splits a market identifier back into its underlying symbol
// and period date.
func ParseMarketID(id string) (string, Date, error) {
	// The date suffix is fixed-width: "-YYYY-MM-DD".
	const dateLen = len("2006-01-02")
	if len(id) < dateLen+2 {
		return "", Date{}, fmt.Errorf("period: malformed market id %q", id)
	}
	sep := len(id) - dateLen - 1
	if id[sep] != '-' {
		return "", Date{}, fmt.Errorf("period: malformed market id %q", id)
	}
	underlying := id[:sep]
	if underlying == "" {
		return "", Date{}, fmt.Errorf("period: malformed market id %q", id)
	}
	date, err := time.ParseInLocation("2006-01-02", id[sep+1:], time.UTC)
	if err != nil {
		return "", Date{}, fmt.Errorf("period: malformed market id %q: %w", id, err)
	}
	return underlying, date, nil
}
