package ledgercache

// Decision is the outcome of evaluating a cache policy against a cache entry.
type Decision int

const (
	// ServeCached returns the stored payload without contacting the ledger.
	ServeCached Decision = iota

	// Refetch fetches a verified payload from the ledger.
	Refetch

	// ErrorStaleRequired fails the call: nothing cached and fetching forbidden.
	ErrorStaleRequired
)

func (d Decision) String() string {
	switch d {
	case ServeCached:
		return "serve_cached"
	case Refetch:
		return "refetch"
	case ErrorStaleRequired:
		return "stale_required"
	default:
		return "unknown"
	}
}

// DecideSchema evaluates schema read options against entry (nil on miss) at
// time now (seconds since the epoch).
func DecideSchema(opts SchemaOptions, entry *CacheEntry, now int64) Decision {
	if entry == nil {
		if opts.NoUpdate {
			return ErrorStaleRequired
		}
		return Refetch
	}
	if opts.NoCache {
		return Refetch
	}
	if opts.MinFresh == Unbounded || entry.Age(now) <= opts.MinFresh {
		return ServeCached
	}
	// Stale entry: serve it anyway when updates are forbidden.
	if opts.NoUpdate {
		return ServeCached
	}
	return Refetch
}

// DecideCredDef evaluates credential definition read options against entry.
func DecideCredDef(opts CredDefOptions, entry *CacheEntry) Decision {
	if opts.ForceUpdate || entry == nil {
		return Refetch
	}
	return ServeCached
}

// Expired reports whether a purge with the given minFresh removes entry.
func Expired(entry *CacheEntry, minFresh, now int64) bool {
	if minFresh == Unbounded {
		return true
	}
	return entry.Age(now) > minFresh
}
