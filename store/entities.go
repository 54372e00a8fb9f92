package store

import (
	"encoding/json"
	"fmt"
	"time"

	"crowd-density/common"
)

// Zone is a monitored area with a capacity and alert thresholds. Thresholds
// are density percentages with 0 < warning < critical.
type Zone struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	Description       string    `json:"description,omitempty"`
	MaxCapacity       int       `gorm:"not null" json:"max_capacity"`
	ThresholdWarning  float64   `json:"threshold_warning"`
	ThresholdCritical float64   `json:"threshold_critical"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate rejects misconfigured zones at configuration time so the alert
// evaluator never has to defend against capacity <= 0 or inverted
// thresholds on the hot path.
func (z *Zone) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("zone name is required")
	}
	if z.MaxCapacity <= 0 {
		return fmt.Errorf("zone %q: max_capacity must be positive, got %d", z.Name, z.MaxCapacity)
	}
	if z.ThresholdWarning <= 0 {
		return fmt.Errorf("zone %q: threshold_warning must be positive, got %.1f", z.Name, z.ThresholdWarning)
	}
	if z.ThresholdCritical <= z.ThresholdWarning {
		return fmt.Errorf("zone %q: threshold_critical %.1f must exceed threshold_warning %.1f",
			z.Name, z.ThresholdCritical, z.ThresholdWarning)
	}
	return nil
}

// Camera is owned by the configuration store and referenced by detections,
// never owning them.
type Camera struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Location  string    `json:"location,omitempty"`
	ZoneID    *uint     `json:"zone_id,omitempty"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DetectionRecord is the detector's output for one frame, normalized.
// Created once per processed frame (or once per image) and never updated.
type DetectionRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UploadID string `gorm:"index;not null" json:"upload_id"`
	CameraID *uint  `json:"camera_id,omitempty"`
	ZoneID   *uint  `gorm:"index" json:"zone_id,omitempty"`
	// Timestamp orders records for alert evaluation and window queries.
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	PersonCount int       `gorm:"not null" json:"person_count"`
	// DensityPct is nil when the record has no associated zone.
	DensityPct *float64 `json:"density_percentage,omitempty"`
	// FrameIndex is nil for still images.
	FrameIndex *int `json:"frame_index,omitempty"`
	// Boxes holds the raw bounding boxes as a JSON array.
	Boxes string `gorm:"type:text" json:"-"`
}

// SetBoxes serializes the raw bounding boxes into the JSON column.
func (d *DetectionRecord) SetBoxes(boxes []common.BoundingBox) error {
	data, err := json.Marshal(boxes)
	if err != nil {
		return fmt.Errorf("marshaling bounding boxes: %w", err)
	}
	d.Boxes = string(data)
	return nil
}

// GetBoxes deserializes the raw bounding boxes column.
func (d *DetectionRecord) GetBoxes() ([]common.BoundingBox, error) {
	if d.Boxes == "" {
		return nil, nil
	}
	var boxes []common.BoundingBox
	if err := json.Unmarshal([]byte(d.Boxes), &boxes); err != nil {
		return nil, fmt.Errorf("unmarshaling bounding boxes: %w", err)
	}
	return boxes, nil
}

// UploadJob is one processing run over one uploaded file. Status is mutated
// only by the worker processing the job; COMPLETED and FAILED are terminal.
type UploadJob struct {
	ID           string           `gorm:"primaryKey" json:"id"`
	MediaKind    common.MediaKind `gorm:"not null" json:"media_kind"`
	OriginalPath string           `json:"original_path"`
	CameraID     *uint            `json:"camera_id,omitempty"`
	ZoneID       *uint            `json:"zone_id,omitempty"`

	Status     common.JobStatus  `gorm:"index;not null" json:"status"`
	ReasonCode common.ReasonCode `json:"reason_code,omitempty"`
	Message    string            `json:"message,omitempty"`

	// Result summary, populated on COMPLETED.
	ProcessedPath   string   `json:"processed_path,omitempty"`
	WebPlayable     bool     `json:"web_playable"`
	TotalFrames     int      `json:"total_frames"`
	ProcessedFrames int      `json:"processed_frames"`
	SkippedFrames   int      `json:"skipped_frames"`
	AvgPersonCount  float64  `json:"average_person_count"`
	AvgDensity      *float64 `json:"average_density,omitempty"`
	PeakDensity     *float64 `json:"peak_density,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is a zone-scoped notification of a threshold breach. Created and
// resolved only by the alert evaluator.
type Alert struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	ZoneID      uint               `gorm:"index;not null" json:"zone_id"`
	DetectionID *uint              `json:"detection_id,omitempty"`
	Severity    common.Severity    `gorm:"not null" json:"severity"`
	Message     string             `json:"message"`
	Status      common.AlertStatus `gorm:"index;not null" json:"status"`
	CreatedAt   time.Time          `gorm:"index" json:"created_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}
