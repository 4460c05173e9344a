package db

import (
	"encoding/json"
	"time"
)

// Event is a single resource delta as recorded in the events log
type Event struct {
	ID           int64
	Timestamp    time.Time
	ResourceID   string
	ResourceType string
	Raw          json.RawMessage
}

// DeviceHealth is the aggregation of a device's buckets over a day range
type DeviceHealth struct {
	ResourceID         string
	Name               string
	Type               string
	Disconnects        int64
	MinutesUnreachable int64
	LastSeen           *time.Time
	BatteryLow         bool
}

// Stats summarizes the store contents
type Stats struct {
	TotalEvents     int64
	TotalDevices    int64
	ActiveDevices7d int64
	EventsLastHour  int64
}
