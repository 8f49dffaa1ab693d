package tile

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/ringfinder/tile/toa"
)

// AuthKeySize is the length of the shared secret issued by the Tile cloud.
const AuthKeySize = 16

// AuthStrategy identifies one HMAC construction for the handshake's signed
// response. The canonical construction is StrategyTOA; the alternates were
// observed on older firmware during reverse engineering and are only tried
// when the canonical one fails.
type AuthStrategy uint8

const (
	// StrategyTOA: HMAC-SHA256 over pad16(randA) || pad16(randT), bytes [4:8].
	StrategyTOA AuthStrategy = iota
	// StrategyLegacyConcat: HMAC-SHA256 over randA || randT unpadded,
	// leading bytes.
	StrategyLegacyConcat
	// StrategyReversedConcat: HMAC-SHA256 over randT || randA unpadded,
	// leading bytes.
	StrategyReversedConcat
)

func (s AuthStrategy) String() string {
	switch s {
	case StrategyTOA:
		return "toa"
	case StrategyLegacyConcat:
		return "legacy-concat"
	case StrategyReversedConcat:
		return "reversed-concat"
	}
	return "unknown"
}

// Strategies is the ordered trial list used by the handshake when no cached
// method is known for a tile.
var Strategies = []AuthStrategy{StrategyTOA, StrategyLegacyConcat, StrategyReversedConcat}

// ComputeSres returns the expected signed response for the given strategy,
// key and nonce pair. It is a pure function of its inputs. For StrategyTOA
// the result is always 4 bytes; the legacy constructions return n bytes to
// match the device-supplied field being compared.
func ComputeSres(s AuthStrategy, key, randA, randT []byte, n int) []byte {
	mac := hmac.New(sha256.New, key)

	switch s {
	case StrategyLegacyConcat:
		mac.Write(randA)
		mac.Write(randT)
		return mac.Sum(nil)[:n]
	case StrategyReversedConcat:
		mac.Write(randT)
		mac.Write(randA)
		return mac.Sum(nil)[:n]
	default:
		mac.Write(pad16(randA))
		mac.Write(pad16(randT))
		return mac.Sum(nil)[4:8]
	}
}

// sresMatch compares an expected signed response against the device-supplied
// one in constant time. The device field may be longer than the expected
// value (legacy 8-byte responses); only the leading bytes are significant.
func sresMatch(expected, supplied []byte) bool {
	if len(supplied) < len(expected) {
		return false
	}
	return hmac.Equal(expected, supplied[:len(expected)])
}

// deriveChannelKey derives the 16-byte session channel key from handshake
// material: HMAC-SHA256 over randA, the channel-open response data, the
// assigned channel byte and the connectionless frame marker.
func deriveChannelKey(authKey, randA, channelData []byte, channelByte byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write(randA)
	mac.Write(channelData)
	mac.Write([]byte{channelByte})
	mac.Write(toa.ConnectionlessID)
	return mac.Sum(nil)[:16]
}

// pad16 zero-pads b to 16 bytes. Longer inputs are used as-is.
func pad16(b []byte) []byte {
	if len(b) >= 16 {
		return b
	}
	out := make([]byte, 16)
	copy(out, b)
	return out
}
