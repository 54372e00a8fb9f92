package store

import (
	"fmt"
	"time"
)

// SaveDetection appends a single detection record. Records are immutable
// after creation.
func (ds *DataStore) SaveDetection(record *DetectionRecord) error {
	if err := ds.DB.Create(record).Error; err != nil {
		return fmt.Errorf("saving detection record: %w", err)
	}
	return nil
}

// SaveDetections appends a batch of detection records in one transaction.
// Used by video jobs, one record per sampled frame.
func (ds *DataStore) SaveDetections(records []*DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, record := range records {
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("saving detection record: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing detection records: %w", err)
	}
	return nil
}

// DetectionsInWindow returns records with t0 <= timestamp < t1, in
// timestamp order. zoneID of 0 means all zones.
func (ds *DataStore) DetectionsInWindow(t0, t1 time.Time, zoneID uint) ([]DetectionRecord, error) {
	query := ds.DB.Where("timestamp >= ? AND timestamp < ?", t0, t1)
	if zoneID != 0 {
		query = query.Where("zone_id = ?", zoneID)
	}
	var records []DetectionRecord
	if err := query.Order("timestamp asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying detections in window: %w", err)
	}
	return records, nil
}

// LatestDetectionForZone returns the most recent record for a zone, or
// (nil, nil) when the zone has none.
func (ds *DataStore) LatestDetectionForZone(zoneID uint) (*DetectionRecord, error) {
	var record DetectionRecord
	err := ds.DB.Where("zone_id = ?", zoneID).Order("timestamp desc").Limit(1).Find(&record).Error
	if err != nil {
		return nil, fmt.Errorf("querying latest detection for zone %d: %w", zoneID, err)
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
