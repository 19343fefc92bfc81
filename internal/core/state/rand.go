package state

// Rand is the per-state deterministic generator. It is splitmix64: tiny,
// well distributed, and identical on every platform, which math/rand does
// not promise across Go versions. The stream position clones with the
// state, so a rolled-back replay redraws exactly the numbers the original
// pass drew.
type Rand struct {
	s uint64
}

func NewRand(seed uint64) *Rand {
	return &Rand{s: seed}
}

func (r *Rand) Uint64() uint64 {
	r.s += 0x9E3779B97F4A7C15
	z := r.s
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Int63n returns a value in [0, n). n must be positive.
func (r *Rand) Int63n(n int64) int64 {
	if n <= 0 {
		panic("state: Int63n with non-positive n")
	}
	return int64(r.Uint64() % uint64(n))
}

func (r *Rand) clone() *Rand { return &Rand{s: r.s} }

func (r *Rand) state() uint64 { return r.s }

func (r *Rand) restore(s uint64) { r.s = s }
