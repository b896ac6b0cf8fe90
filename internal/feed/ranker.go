package feed

import (
	"math"
	"sort"
	"time"
)

// Engagement levels derived from raw counts.
type engagementLevel int

const (
	engagementNone engagementLevel = iota
	engagementMedium
	engagementHigh
)

const (
	highAffinityThreshold     = 0.7
	relevantAffinityThreshold = 0.3
	diversityPenaltyThreshold = 0.8
)

// levelOf buckets a candidate's engagement. High engagement requires one
// counter past its threshold; any nonzero counter is medium.
func levelOf(c *Candidate) engagementLevel {
	counts := c.Counts
	views := c.Tweet.ViewCount
	if counts.Likes >= 5 || counts.Shares >= 2 || counts.Bookmarks >= 3 || counts.Comments >= 2 || views >= 100 {
		return engagementHigh
	}
	if counts.Likes > 0 || counts.Shares > 0 || counts.Bookmarks > 0 || counts.Comments > 0 || views > 0 {
		return engagementMedium
	}
	return engagementNone
}

// Classify assigns exactly one priority category. Author attributes win over
// follow membership, follow membership over trend signals.
func Classify(c *Candidate, following map[string]bool) Category {
	level := levelOf(c)
	switch {
	case c.Author.IsOrganizational && c.Author.IsPrime:
		switch level {
		case engagementHigh:
			return CatPrimeOrgHigh
		case engagementMedium:
			return CatPrimeOrgMedium
		default:
			return CatPrimeOrgNone
		}
	case following[c.Author.UserID]:
		if c.Affinity > highAffinityThreshold && level != engagementNone {
			return CatHighAffinity
		}
		switch level {
		case engagementHigh:
			return CatFollowingHigh
		case engagementMedium:
			return CatFollowingMedium
		default:
			return CatFollowingNone
		}
	case level == engagementHigh:
		if c.Affinity > relevantAffinityThreshold {
			return CatTrendingRelevant
		}
		return CatTrendingGeneral
	default:
		return CatOther
	}
}

// decayWindowHours scales the freshness window with how much engagement the
// tweet already earned: proven content decays slower.
func decayWindowHours(base float64) float64 {
	switch {
	case base > 50:
		return 72
	case base > 20:
		return 48
	case base > 5:
		return 24
	default:
		return 12
	}
}

// Score computes the final ranking score for a candidate at the given time.
func Score(c *Candidate, now time.Time) float64 {
	counts := c.Counts
	base := float64(counts.Likes)*3 + float64(counts.Shares)*4 +
		float64(counts.Bookmarks)*2 + float64(counts.Comments)*2 +
		float64(c.Tweet.ViewCount)*0.1

	hoursOld := now.Sub(c.Tweet.CreatedAt).Hours()
	timeDecay := math.Max(0.1, 1-hoursOld/decayWindowHours(base))

	velocityBonus := c.Velocity * 10
	affinityBonus := c.Affinity * base * 0.5

	penalty := 1.0
	if c.Affinity > diversityPenaltyThreshold {
		penalty = 1 - c.Affinity*0.3
	}

	score := (base*timeDecay + velocityBonus + affinityBonus) * penalty
	if score < 0 {
		return 0
	}
	return score
}

// sortByScore orders candidates score-descending with id-descending ties so
// the same input always pages the same way.
func sortByScore(cs []*Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Tweet.ID > cs[j].Tweet.ID
	})
}

// pageSlice returns the page-th slice of size n, 1-indexed.
func pageSlice(cs []*Candidate, page, n int) []*Candidate {
	if n <= 0 {
		return nil
	}
	start := (page - 1) * n
	if start >= len(cs) {
		return nil
	}
	end := start + n
	if end > len(cs) {
		end = len(cs)
	}
	return cs[start:end]
}

// RankPage runs classify, score, quota allocation, diversity injection and
// backfill over the candidate set and returns the page's rows plus the total
// classified candidate count. Pure: no I/O, deterministic for a fixed now.
func RankPage(candidates []*Candidate, following map[string]bool, page, pageSize int, now time.Time) ([]*Candidate, int) {
	byCategory := make(map[Category][]*Candidate)
	for _, c := range candidates {
		c.Score = Score(c, now)
		c.Category = Classify(c, following)
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}
	for _, cs := range byCategory {
		sortByScore(cs)
	}

	selected := make([]*Candidate, 0, pageSize)
	picked := make(map[int64]bool, pageSize)
	take := func(cs []*Candidate) {
		for _, c := range cs {
			if len(selected) >= pageSize || picked[c.Tweet.ID] {
				continue
			}
			picked[c.Tweet.ID] = true
			selected = append(selected, c)
		}
	}

	// Per-category quota slots, page-sliced within the category ordering.
	for _, cat := range quotaOrder {
		quota := pageSize * categoryQuota[cat] / 100
		take(pageSlice(byCategory[cat], page, quota))
	}

	// Diversity injection: a small share of top "other" content keeps the
	// page from being pure quota output.
	diversity := pageSize * diversitySharePct / 100
	if diversity < 2 {
		diversity = 2
	}
	take(pageSlice(byCategory[CatOther], page, diversity))

	// Backfill leftover slots from the best remaining candidates anywhere.
	if len(selected) < pageSize {
		rest := make([]*Candidate, 0, len(candidates))
		for _, c := range candidates {
			if !picked[c.Tweet.ID] {
				rest = append(rest, c)
			}
		}
		sortByScore(rest)
		take(rest)
	}

	return selected, len(candidates)
}
