// Package store persists zones, cameras, detection records, upload jobs and
// alerts in a GORM-managed SQLite database.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DataStore wraps the GORM database and owns every query in the system.
type DataStore struct {
	DB *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string) (*DataStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	ds := &DataStore{DB: db}
	if err := ds.migrate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *DataStore) migrate() error {
	if err := ds.DB.AutoMigrate(&Zone{}, &Camera{}, &DetectionRecord{}, &UploadJob{}, &Alert{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Zones ---

// CreateZone validates and stores a new zone. Misconfiguration fails here,
// at configuration time, never during alert evaluation.
func (ds *DataStore) CreateZone(zone *Zone) error {
	if err := zone.Validate(); err != nil {
		return err
	}
	if err := ds.DB.Create(zone).Error; err != nil {
		return fmt.Errorf("creating zone: %w", err)
	}
	return nil
}

// UpdateZone validates and saves zone changes. Capacity is immutable once
// detection records reference the zone: their stored densities are derived
// from it and must stay reproducible from the two operands.
func (ds *DataStore) UpdateZone(zone *Zone) error {
	if err := zone.Validate(); err != nil {
		return err
	}

	var current Zone
	if err := ds.DB.First(&current, zone.ID).Error; err != nil {
		return fmt.Errorf("getting zone %d: %w", zone.ID, err)
	}
	if current.MaxCapacity != zone.MaxCapacity {
		var refs int64
		err := ds.DB.Model(&DetectionRecord{}).Where("zone_id = ?", zone.ID).Count(&refs).Error
		if err != nil {
			return fmt.Errorf("counting detections for zone %d: %w", zone.ID, err)
		}
		if refs > 0 {
			return fmt.Errorf("zone %q: max_capacity is immutable while %d detection records reference it",
				zone.Name, refs)
		}
	}

	if err := ds.DB.Save(zone).Error; err != nil {
		return fmt.Errorf("updating zone %d: %w", zone.ID, err)
	}
	return nil
}

func (ds *DataStore) GetZone(id uint) (Zone, error) {
	var zone Zone
	if err := ds.DB.First(&zone, id).Error; err != nil {
		return Zone{}, fmt.Errorf("getting zone %d: %w", id, err)
	}
	return zone, nil
}

func (ds *DataStore) ListZones() ([]Zone, error) {
	var zones []Zone
	if err := ds.DB.Order("id").Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("listing zones: %w", err)
	}
	return zones, nil
}

// --- Cameras ---

func (ds *DataStore) CreateCamera(camera *Camera) error {
	if camera.Name == "" {
		return fmt.Errorf("camera name is required")
	}
	if err := ds.DB.Create(camera).Error; err != nil {
		return fmt.Errorf("creating camera: %w", err)
	}
	return nil
}

func (ds *DataStore) UpdateCamera(camera *Camera) error {
	if err := ds.DB.Save(camera).Error; err != nil {
		return fmt.Errorf("updating camera %d: %w", camera.ID, err)
	}
	return nil
}

func (ds *DataStore) DeleteCamera(id uint) error {
	if err := ds.DB.Delete(&Camera{}, id).Error; err != nil {
		return fmt.Errorf("deleting camera %d: %w", id, err)
	}
	return nil
}

func (ds *DataStore) GetCamera(id uint) (Camera, error) {
	var camera Camera
	if err := ds.DB.First(&camera, id).Error; err != nil {
		return Camera{}, fmt.Errorf("getting camera %d: %w", id, err)
	}
	return camera, nil
}

func (ds *DataStore) ListCameras() ([]Camera, error) {
	var cameras []Camera
	if err := ds.DB.Order("id").Find(&cameras).Error; err != nil {
		return nil, fmt.Errorf("listing cameras: %w", err)
	}
	return cameras, nil
}

// CountCameras returns (active, total).
func (ds *DataStore) CountCameras() (active, total int64, err error) {
	if err = ds.DB.Model(&Camera{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("counting cameras: %w", err)
	}
	if err = ds.DB.Model(&Camera{}).Where("active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, fmt.Errorf("counting active cameras: %w", err)
	}
	return active, total, nil
}
