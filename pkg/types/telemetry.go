package types

import "time"

// Observation is a periodic telemetry snapshot sent by an installation.
type Observation struct {
	Timestamp     time.Time      `json:"timestamp"`
	HAVersion     string         `json:"ha_version"`
	Host          HostStats      `json:"host"`
	Core          *CoreStats     `json:"core,omitempty"`
	ZigbeeDevices []ZigbeeDevice `json:"zigbee_devices,omitempty"`
	Automations   []Automation   `json:"automations,omitempty"`
	Scripts       []Script       `json:"scripts,omitempty"`
	Scenes        []Scene        `json:"scenes,omitempty"`
}

// HostStats is the host section of an observation.
type HostStats struct {
	CPUPercent *float64       `json:"cpu_percent,omitempty"`
	Memory     *MemoryStats   `json:"memory,omitempty"`
	Storages   []StorageStats `json:"storages,omitempty"`
	Network    *NetworkStats  `json:"network,omitempty"`
}

// MemoryStats reports host memory in bytes.
type MemoryStats struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// StorageStats reports one host storage.
type StorageStats struct {
	Name       string `json:"name"`
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
}

// NetworkStats reports host network throughput.
type NetworkStats struct {
	RxBytesPerSecond float64 `json:"rx_bytes_per_second"`
	TxBytesPerSecond float64 `json:"tx_bytes_per_second"`
}

// CoreStats reports the Home Assistant core process.
type CoreStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ZigbeeDevice is one device reported by the zigbee integration.
type ZigbeeDevice struct {
	IEEE        string     `json:"ieee"`
	Name        string     `json:"name,omitempty"`
	LinkQuality *float64   `json:"link_quality,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// Automation is one automation entity.
type Automation struct {
	ID            string     `json:"id"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// Script is one script entity.
type Script struct {
	UniqueID      string     `json:"unique_id"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// Scene is one scene entity.
type Scene struct {
	ID            string     `json:"id"`
	LastActivated *time.Time `json:"last_activated,omitempty"`
}

// AddonList reports the addons installed on an installation.
type AddonList struct {
	Timestamp time.Time `json:"timestamp"`
	Addons    []Addon   `json:"addons"`
}

// Addon is one installed addon.
type Addon struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name,omitempty"`
	State         string   `json:"state,omitempty"`
	Version       string   `json:"version,omitempty"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
}

// LogUpdate carries a chunk of the Home Assistant log.
type LogUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}
