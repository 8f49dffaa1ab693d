package tile

import (
	"context"
	"strings"
	"time"
)

// candidate ranks. Lower is better.
const (
	rankExact      = 0 // tile service + derived address
	rankService    = 1 // tile service, other address
	rankNamePrefix = 2 // address or name carries a tile ID prefix
)

// matchAdvertisement consumes the driver's scan stream until the timeout and
// selects the best candidate for the tile.
//
// An exact hit (service UUID plus the derived address) stops the scan early.
// Anything weaker is retained in case an exact hit still appears: address
// rotation across firmware generations means the derived address is only a
// hint, so a fallback candidate at timeout is a match, not a failure.
func matchAdvertisement(ctx context.Context, d Driver, tileID string, derived Addr, timeout time.Duration, log Logger) (Addr, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := d.Scan(sctx)
	if err != nil {
		return nil, &ConnectionError{Op: "scan", Err: err}
	}

	idPrefix := normalizeHex(tileID)
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}

	var best Advertisement
	bestRank := -1

	consider := func(a Advertisement, rank int) {
		if bestRank == -1 || rank < bestRank || (rank == bestRank && a.RSSI > best.RSSI) {
			best, bestRank = a, rank
		}
	}

	for a := range ch {
		switch {
		case a.HasService(ServiceUUID) && AddrEqual(a.Addr, derived):
			log.Debugf("exact match at %v (rssi %d)", a.Addr, a.RSSI)
			cancel()
			return a.Addr, nil
		case a.HasService(ServiceUUID):
			log.Debugf("tile service at %v (rssi %d), address differs from %v", a.Addr, a.RSSI, derived)
			consider(a, rankService)
		case strings.Contains(normalizeHex(a.Addr.String()), idPrefix) ||
			strings.Contains(strings.ToLower(a.LocalName), idPrefix):
			log.Debugf("id prefix match at %v (%q)", a.Addr, a.LocalName)
			consider(a, rankNamePrefix)
		}
	}

	if bestRank == -1 {
		return nil, &DeviceNotFoundError{TileID: tileID}
	}

	log.Infof("no exact match for %s, using rank-%d fallback %v", shortID(tileID), bestRank, best.Addr)
	return best.Addr, nil
}
