package missioncontrol

import (
	"fmt"
	"time"
)

type Progress struct {
	CurrentStructureIndex int       `json:"current_structure_index"`
	CurrentPhotoIndex     int       `json:"current_photo_index"`
	CompletedWaypoints    int       `json:"completed_waypoints"`
	TotalWaypoints        int       `json:"total_waypoints"`
	TotalStructures       int       `json:"total_structures"`
	PhotosPerStructure    int       `json:"photos_per_structure"`
	StartedAt             time.Time `json:"started_at"`
	PausedAt              time.Time `json:"paused_at"`
	FinishedAt            time.Time `json:"finished_at"`
	SuccessfulPhotos      int       `json:"successful_photos"`
	FailedPhotos          int       `json:"failed_photos"`
}

func (p Progress) TotalPhotos() int {
	return p.TotalStructures * p.PhotosPerStructure
}

// Duration is measured up to FinishedAt, or up to now while the mission runs.
func (p Progress) Duration(now time.Time) time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !p.FinishedAt.IsZero() {
		end = p.FinishedAt
	}
	if end.Before(p.StartedAt) {
		return 0
	}
	return end.Sub(p.StartedAt)
}

// Percentage of photo waypoints handled, accepted or failed.
func (p Progress) Percentage() float64 {
	total := p.TotalPhotos()
	if total == 0 {
		return 0
	}
	return float64(p.SuccessfulPhotos+p.FailedPhotos) * 100 / float64(total)
}

func (p Progress) Summary(now time.Time) string {
	return fmt.Sprintf("%d of %d photos accepted, %d failed, %.0f%% complete, duration %s",
		p.SuccessfulPhotos, p.TotalPhotos(), p.FailedPhotos, p.Percentage(), p.Duration(now).Round(time.Second))
}
