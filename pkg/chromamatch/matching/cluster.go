package matching

import (
	"cmp"
	"slices"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
)

// ClusterOptions control how raw candidates are merged into matches. All
// distances are in hops.
type ClusterOptions struct {
	// OffsetTolerance is the largest offset difference between two
	// candidates that still belong to the same alignment.
	OffsetTolerance int
	// MaxGap is the largest distance between the Track1 indices of
	// neighbouring candidates of one cluster. Zero uses the store's
	// fingerprint size, so candidates whose comparison windows overlap
	// always join.
	MaxGap int
	// MinCorroboration is the number of distinct colliding hashes a cluster
	// needs to survive FindAllMatchingMatches.
	MinCorroboration int
}

func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{OffsetTolerance: 2, MinCorroboration: 2}
}

// candidate is a scored occurrence pair, oriented so that e1 belongs to the
// track registered first.
type candidate struct {
	e1, e2 LookupEntry
	ber    float64
	hash   fingerprint.SubFingerprintHash
}

func (c candidate) offset() int { return c.e1.Index - c.e2.Index }

// better reports whether c is a better representative than o: lower BER,
// then earlier position.
func (c candidate) better(o candidate) bool {
	if c.ber != o.ber {
		return c.ber < o.ber
	}
	if c.e1.Index != o.e1.Index {
		return c.e1.Index < o.e1.Index
	}
	return c.e2.Index < o.e2.Index
}

type cluster struct {
	best   candidate
	size   int
	hashes map[fingerprint.SubFingerprintHash]struct{}
	first  int // smallest Track1 index
	last   int // largest Track1 index
}

type pairKey struct {
	a, b string
}

// unionFind over candidate indices.
type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u[rb] = ra
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// clusterCandidates links candidates of the same track pair whose offsets
// are within OffsetTolerance and whose Track1 indices are at most MaxGap
// apart. Each connected group becomes one cluster.
func clusterCandidates(cands []candidate, opts ClusterOptions) []*cluster {
	groups := make(map[pairKey][]candidate)
	var keys []pairKey
	for _, c := range cands {
		k := pairKey{c.e1.Track.ID, c.e2.Track.ID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], c)
	}

	var out []*cluster
	for _, k := range keys {
		group := groups[k]
		slices.SortFunc(group, func(a, b candidate) int {
			if c := cmp.Compare(a.e1.Index, b.e1.Index); c != 0 {
				return c
			}
			return cmp.Compare(a.e2.Index, b.e2.Index)
		})

		uf := newUnionFind(len(group))
		for i := range group {
			for j := i - 1; j >= 0 && group[i].e1.Index-group[j].e1.Index <= opts.MaxGap; j-- {
				if abs(group[i].offset()-group[j].offset()) <= opts.OffsetTolerance {
					uf.union(i, j)
				}
			}
		}

		byRoot := make(map[int]*cluster)
		for i, c := range group {
			r := uf.find(i)
			cl, ok := byRoot[r]
			if !ok {
				cl = &cluster{
					best:   c,
					hashes: make(map[fingerprint.SubFingerprintHash]struct{}),
					first:  c.e1.Index,
					last:   c.e1.Index,
				}
				byRoot[r] = cl
				out = append(out, cl)
			} else if c.better(cl.best) {
				cl.best = c
			}
			cl.size++
			cl.hashes[c.hash] = struct{}{}
			cl.first = min(cl.first, c.e1.Index)
			cl.last = max(cl.last, c.e1.Index)
		}
	}
	return out
}
