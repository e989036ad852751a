package service

import (
	"math"
	"sort"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

// ranksAhead reports whether a is served before b: higher score first, then earlier check-in.
// The id comparison only makes the order total for identical check-in instants.
func ranksAhead(a, b *models.QueueEntry) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.CheckInTime.Equal(b.CheckInTime) {
		return a.CheckInTime.Before(b.CheckInTime)
	}
	return a.ID < b.ID
}

// SortWaiting orders entries by serving priority in place.
func SortWaiting(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return ranksAhead(&entries[i], &entries[j])
	})
}

// EstimateWait converts a count of entries ahead into minutes.
func EstimateWait(ahead int, averageMinutes float64) int {
	if ahead <= 0 || averageMinutes <= 0 {
		return 0
	}
	return int(math.Round(float64(ahead) * averageMinutes))
}

// AssignRanks sorts the waiting subset, assigns positions 1..N and wait estimates in place,
// and returns copies of the entries whose position or estimate changed.
func AssignRanks(waiting []models.QueueEntry, averageMinutes float64) []models.QueueEntry {
	SortWaiting(waiting)
	changed := make([]models.QueueEntry, 0, len(waiting))
	for i := range waiting {
		entry := &waiting[i]
		position := i + 1
		wait := EstimateWait(i, averageMinutes)
		if entry.Position() == position && entry.EstimatedWaitMinutes == wait {
			continue
		}
		entry.QueuePosition = &position
		entry.EstimatedWaitMinutes = wait
		changed = append(changed, *entry)
	}
	return changed
}

// CountAhead counts waiting entries served before target.
func CountAhead(waiting []models.QueueEntry, target *models.QueueEntry) int {
	ahead := 0
	for i := range waiting {
		if waiting[i].ID == target.ID {
			continue
		}
		if ranksAhead(&waiting[i], target) {
			ahead++
		}
	}
	return ahead
}
