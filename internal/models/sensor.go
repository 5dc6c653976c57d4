package models

import "time"

// Sensor is the metadata record for one device. EquipmentGroup declares the
// dependency group (floor, air handler, electrical panel) used by cascade
// detection: failures co-occurring inside one group are related by wiring,
// not coincidence.
type Sensor struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	BuildingID     string    `json:"building_id" db:"building_id"`
	EquipmentGroup string    `json:"equipment_group" db:"equipment_group"`
	Unit           string    `json:"unit" db:"unit"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
