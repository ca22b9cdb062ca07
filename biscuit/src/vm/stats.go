package vm

import "stats"

// Vmstat_t counts calls into the mmap, munmap, fault, and fork paths.
// Every field is a no-op while stats.Stats is const false, so this costs
// nothing on the normal path; flip that const to turn it on.
type Vmstat_t struct {
	Nmmap    stats.Counter_t
	Nmunmap  stats.Counter_t
	Npgfault stats.Counter_t
	Nfork    stats.Counter_t
	Cycles   stats.Cycles_t
}

var Stats Vmstat_t

// StatsString renders the accumulated counters, or "" when stats.Stats is
// disabled.
func StatsString() string {
	return stats.Stats2String(Stats)
}
