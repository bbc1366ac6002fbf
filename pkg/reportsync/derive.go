package reportsync

import (
	"cmp"
	"slices"
	"strings"

	"civic-reporting/pkg/models"
)

// MergeByID appends the reports of chunk whose ids are not already present
// in existing. Existing entries are never replaced. The result is a new
// slice.
func MergeByID(existing, chunk []models.Report) []models.Report {
	out := make([]models.Report, 0, len(existing)+len(chunk))
	seen := make(map[string]struct{}, len(existing)+len(chunk))
	for _, list := range [][]models.Report{existing, chunk} {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// SortNewestFirst orders list by submission time, newest first, in place.
func SortNewestFirst(list []models.Report) {
	slices.SortStableFunc(list, func(a, b models.Report) int {
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})
}

// ReportsBy returns the reports filed under reporter name.
func ReportsBy(list []models.Report, name string) []models.Report {
	out := make([]models.Report, 0)
	for _, r := range list {
		if reporterName(r) == name {
			out = append(out, r)
		}
	}
	return out
}

func reporterName(r models.Report) string {
	if r.Reporter.Name == "" {
		return models.DefaultReporterName
	}
	return r.Reporter.Name
}

type Tier string

const (
	TierLegend   Tier = "Legend"
	TierPro      Tier = "Pro"
	TierActive   Tier = "Active"
	TierNewcomer Tier = "Newcomer"
)

// KarmaPerReport is the reputation earned by each report.
const KarmaPerReport = 10

func TierFor(karma int) Tier {
	switch {
	case karma >= 200:
		return TierLegend
	case karma >= 100:
		return TierPro
	case karma >= 50:
		return TierActive
	default:
		return TierNewcomer
	}
}

type Leader struct {
	Name    string `json:"name"`
	Reports int    `json:"reports"`
	Karma   int    `json:"karma"`
	Tier    Tier   `json:"tier"`
}

// Leaderboard ranks reporters by karma, then report count, then name.
func Leaderboard(list []models.Report) []Leader {
	counts := make(map[string]int)
	for _, r := range list {
		counts[reporterName(r)]++
	}

	out := make([]Leader, 0, len(counts))
	for name, n := range counts {
		karma := n * KarmaPerReport
		out = append(out, Leader{Name: name, Reports: n, Karma: karma, Tier: TierFor(karma)})
	}
	slices.SortFunc(out, func(a, b Leader) int {
		if c := cmp.Compare(b.Karma, a.Karma); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Reports, a.Reports); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// LocalCounts derives the home counters from an already retained list.
func LocalCounts(list []models.Report) models.Counts {
	c := models.Counts{Total: int64(len(list))}
	for _, r := range list {
		switch r.Status {
		case models.StatusResolved:
			c.Resolved++
		case models.StatusInProgress:
			c.InProgress++
		}
	}
	return c
}
