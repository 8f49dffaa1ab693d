package tile

// StrategyCache remembers which auth construction a tile accepted, so a
// device that needs a non-default method is recognized after first success.
// authcache provides a file-backed implementation.
type StrategyCache interface {
	Load(tileID string) (AuthStrategy, bool)
	Store(tileID string, s AuthStrategy) error
	Clear() error
}
