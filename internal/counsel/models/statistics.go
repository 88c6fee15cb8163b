package models

import (
	"math"
	"time"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

// FunnelStage names one step of the conversion funnel.
type FunnelStage string

const (
	StageCreated     FunnelStage = "created"
	StageRecommended FunnelStage = "recommended"
	StageMatched     FunnelStage = "matched"
	StageInProgress  FunnelStage = "in_progress"
	StageCompleted   FunnelStage = "completed"
)

// funnelStages is the funnel in order with the status that marks each stage.
var funnelStages = []struct {
	name   FunnelStage
	status Status
}{
	{StageCreated, StatusPending},
	{StageRecommended, StatusRecommended},
	{StageMatched, StatusMatched},
	{StageInProgress, StatusInProgress},
	{StageCompleted, StatusCompleted},
}

// FunnelStep is one funnel row.
type FunnelStep struct {
	Stage          FunnelStage `json:"stage"`
	Count          int         `json:"count"`
	ConversionRate float64     `json:"conversion_rate"`
}

// Statistics are read-only figures derived from request snapshots and their
// status history.
type Statistics struct {
	Total                 int            `json:"total"`
	StatusDistribution    map[Status]int `json:"status_distribution"`
	Funnel                []FunnelStep   `json:"funnel"`
	AverageProcessingDays float64        `json:"average_processing_days"`
	ProcessingSampleSize  int            `json:"processing_sample_size"`
	AverageMatchingHours  float64        `json:"average_matching_hours"`
	MatchingSampleSize    int            `json:"matching_sample_size"`
}

// ConversionRate is count/previous as a percentage rounded to one decimal.
// With no previous cohort there is nothing to lose, so the rate is 100.
func ConversionRate(count, previous int) float64 {
	if previous == 0 {
		return 100
	}
	return math.Round(float64(count)/float64(previous)*1000) / 10
}

func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}

// ComputeStatistics derives distribution, funnel and latency figures.
//
// A request counts toward a funnel stage when its furthest main-path status,
// taken from history and its current snapshot, is at or beyond that stage.
// Latency averages use the first time a request entered COMPLETED or MATCHED;
// requests that never did are left out rather than counted as zero.
func ComputeStatistics(requests []CounselRequest, history []StatusHistoryEntry) Statistics {
	stats := Statistics{
		Total:              len(requests),
		StatusDistribution: make(map[Status]int, len(AllStatuses())),
	}
	for _, s := range AllStatuses() {
		stats.StatusDistribution[s] = 0
	}

	byRequest := make(map[id.CounselRequestID][]StatusHistoryEntry, len(requests))
	for _, e := range history {
		byRequest[e.CounselRequestID] = append(byRequest[e.CounselRequestID], e)
	}

	stageCounts := make([]int, len(funnelStages))
	var processingTotal, matchingTotal time.Duration

	for i := range requests {
		req := &requests[i]
		stats.StatusDistribution[req.Status]++

		furthest := furthestStage(req.Status, byRequest[req.ID])
		for j, st := range funnelStages {
			if st.status.stage() <= furthest {
				stageCounts[j]++
			}
		}

		if at, ok := firstEntered(byRequest[req.ID], StatusCompleted); ok && !at.Before(req.CreatedAt) {
			processingTotal += at.Sub(req.CreatedAt)
			stats.ProcessingSampleSize++
		}
		if at, ok := firstEntered(byRequest[req.ID], StatusMatched); ok && !at.Before(req.CreatedAt) {
			matchingTotal += at.Sub(req.CreatedAt)
			stats.MatchingSampleSize++
		}
	}

	stats.Funnel = make([]FunnelStep, len(funnelStages))
	for i, st := range funnelStages {
		rate := 100.0
		if i > 0 {
			rate = ConversionRate(stageCounts[i], stageCounts[i-1])
		}
		stats.Funnel[i] = FunnelStep{Stage: st.name, Count: stageCounts[i], ConversionRate: rate}
	}

	if stats.ProcessingSampleSize > 0 {
		avg := processingTotal.Hours() / 24 / float64(stats.ProcessingSampleSize)
		stats.AverageProcessingDays = roundOne(avg)
	}
	if stats.MatchingSampleSize > 0 {
		avg := matchingTotal.Hours() / float64(stats.MatchingSampleSize)
		stats.AverageMatchingHours = roundOne(avg)
	}
	return stats
}

func furthestStage(current Status, entries []StatusHistoryEntry) int {
	furthest := 0
	if current != StatusRejected {
		furthest = current.stage()
	}
	for _, e := range entries {
		if e.ToStatus == StatusRejected || !e.ToStatus.IsValid() {
			continue
		}
		if s := e.ToStatus.stage(); s > furthest {
			furthest = s
		}
	}
	return furthest
}

func firstEntered(entries []StatusHistoryEntry, status Status) (time.Time, bool) {
	var first time.Time
	found := false
	for _, e := range entries {
		if e.ToStatus != status {
			continue
		}
		if !found || e.ChangedAt.Before(first) {
			first = e.ChangedAt
			found = true
		}
	}
	return first, found
}
