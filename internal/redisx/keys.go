package redisx

import "time"

const (
	// Daily reservation sequence: seq:reservation:{YYYYMMDD} -> counter
	KeyReservationSeq = "seq:reservation:%s"

	// Cached reservation view: reservation:{id} -> JSON
	KeyReservation = "reservation:%s"

	// Bumped on every invalidation: reservation:{id}:ver -> counter
	KeyReservationVersion = "reservation:%s:ver"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSequence    = 48 * time.Hour
	TTLStatusCache = 30 * time.Second
	TTLCacheVer    = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
