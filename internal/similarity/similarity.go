// Package similarity computes normalized string-similarity ratios used by
// the fuzzy duplicate detector. The ratio is LCS-based: it counts the
// characters two strings share in order, so it behaves like a classic
// sequence-matcher ratio (1.0 for equal strings, 0.0 for disjoint ones).
package similarity

// Ratio returns a similarity score in [0, 1] for a and b.
//
// The score is 2*LCS(a,b) / (len(a)+len(b)) over runes. It is symmetric and
// deterministic; equal inputs always score 1.0.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ar := []rune(a)
	br := []rune(b)
	n := len(ar)
	m := len(br)

	if n == 0 || m == 0 {
		return 0.0
	}

	d := lcsDistance(ar, br)
	return float64(n+m-d) / float64(n+m)
}

// lcsDistance returns the minimum number of insertions plus deletions needed
// to turn a into b. It runs the forward pass of the Myers diff algorithm but
// keeps only the distance; no edit script is reconstructed.
func lcsDistance(a, b []rune) int {
	n := len(a)
	m := len(b)

	max := n + m
	v := make([]int, 2*max+1)

	for d := 0; d <= max; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			idx := k + max
			if k == -d || (k != d && v[idx-1] < v[idx+1]) {
				x = v[idx+1]
			} else {
				x = v[idx-1] + 1
			}
			y := x - k

			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}

			v[idx] = x

			if x >= n && y >= m {
				return d
			}
		}
	}

	return max
}
