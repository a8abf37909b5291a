package upstream

import "slices"

// SortByAddedDate orders links newest first, in place. Links added at the
// same time keep their upstream order. A nil slice becomes an empty one.
func SortByAddedDate(links []Link) []Link {
	if links == nil {
		return []Link{}
	}

	slices.SortStableFunc(links, func(a, b Link) int {
		switch {
		case a.AddedDate > b.AddedDate:
			return -1
		case a.AddedDate < b.AddedDate:
			return 1
		default:
			return 0
		}
	})

	return links
}

// Size is the link's total size in bytes. JDownloader reports unknown sizes
// as -1, which count as zero.
func (l Link) Size() uint64 {
	return knownBytes(l.BytesTotal)
}

// Totals sums the loaded and total bytes of links, skipping unknown sizes.
func Totals(links []Link) (loaded, total uint64) {
	for _, l := range links {
		loaded += knownBytes(l.BytesLoaded)
		total += l.Size()
	}

	return loaded, total
}

func knownBytes(n int64) uint64 {
	if n < 0 {
		return 0
	}

	return uint64(n)
}
