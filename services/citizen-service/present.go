package main

import (
	"context"

	"civic-reporting/pkg/localstore"
	"civic-reporting/pkg/models"
	"civic-reporting/pkg/reportsync"
)

const anonymousName = "Anonymous"

// maskAnonymous returns a copy of list with anonymous reporters hidden.
// The input is shared with live views and must not be modified.
func maskAnonymous(list []models.Report) []models.Report {
	out := make([]models.Report, len(list))
	for i, r := range list {
		out[i] = maskReport(r)
	}
	return out
}

func maskReport(r models.Report) models.Report {
	if r.Reporter.Anonymous {
		r.Reporter = models.Reporter{Name: anonymousName, Anonymous: true}
	}
	return r
}

// publicReports drops anonymous reports from lists keyed by reporter, so a
// profile or ranking cannot reveal who filed them.
func publicReports(list []models.Report) []models.Report {
	out := make([]models.Report, 0, len(list))
	for _, r := range list {
		if !r.Reporter.Anonymous {
			out = append(out, r)
		}
	}
	return out
}

type feedItem struct {
	models.Report
	Votes    int  `json:"votes"`
	HasVoted bool `json:"has_voted"`
}

// feedItems masks list and annotates it with vote state for userID. An
// empty userID leaves HasVoted false.
func feedItems(ctx context.Context, votes *localstore.Store, list []models.Report, userID string) []feedItem {
	out := make([]feedItem, len(list))
	for i, r := range list {
		out[i] = feedItem{Report: maskReport(r), Votes: votes.Votes(ctx, r.ID)}
		if userID != "" {
			out[i].HasVoted = votes.HasVoted(ctx, r.ID, userID)
		}
	}
	return out
}

type feedPayload struct {
	Reports []feedItem        `json:"reports"`
	HasMore bool              `json:"has_more"`
	Source  reportsync.Source `json:"source"`
}

type leadersPayload struct {
	Leaders []reportsync.Leader `json:"leaders"`
	Source  reportsync.Source   `json:"source"`
}

func leadersFrom(snap reportsync.ListSnapshot) leadersPayload {
	return leadersPayload{Leaders: reportsync.Leaderboard(publicReports(snap.Reports)), Source: snap.Source}
}

type profilePayload struct {
	Name    string            `json:"name"`
	Reports []models.Report   `json:"reports"`
	Karma   int               `json:"karma"`
	Tier    reportsync.Tier   `json:"tier"`
	Source  reportsync.Source `json:"source"`
}

func profileFrom(name string, list []models.Report, src reportsync.Source) profilePayload {
	karma := len(list) * reportsync.KarmaPerReport
	return profilePayload{Name: name, Reports: list, Karma: karma, Tier: reportsync.TierFor(karma), Source: src}
}
