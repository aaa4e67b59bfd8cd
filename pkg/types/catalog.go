package types

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownAlarmType is returned for alarm types missing from the catalog.
var ErrUnknownAlarmType = errors.New("unknown alarm type")

// AlarmType identifies one catalog entry.
type AlarmType string

// Category groups alarm types by the telemetry they are derived from.
type Category string

const (
	CategoryCore        Category = "CORE"
	CategoryNetwork     Category = "NETWORK"
	CategoryAddon       Category = "ADDON"
	CategoryZigbee      Category = "ZIGBEE"
	CategoryLogs        Category = "LOGS"
	CategoryAutomations Category = "AUTOMATIONS"
	CategoryScripts     Category = "SCRIPTS"
	CategoryScenes      Category = "SCENES"
	CategoryPing        Category = "PING"
)

// Family selects the evaluation strategy of an alarm type.
type Family string

const (
	FamilyNumeric   Family = "numeric"
	FamilyPing      Family = "ping"
	FamilyLog       Family = "log"
	FamilyAge       Family = "age"
	FamilyExistence Family = "existence"
)

// Scope names the configuration list that restricts an alarm to entities.
type Scope string

const (
	ScopeNone             Scope = ""
	ScopeAddons           Scope = "addons"
	ScopeZigbee           Scope = "zigbee"
	ScopeScripts          Scope = "scripts"
	ScopeScenes           Scope = "scenes"
	ScopeAutomations      Scope = "automations"
	ScopeStorages         Scope = "storages"
	ScopeLogConfiguration Scope = "log_configuration"
)

// Alarm types.
const (
	AlarmHostCPUUsage             AlarmType = "host_cpu_usage"
	AlarmHostMemoryUsage          AlarmType = "host_memory_usage"
	AlarmHostDiskUsage            AlarmType = "host_disk_usage"
	AlarmCoreCPUUsage             AlarmType = "core_cpu_usage"
	AlarmCoreMemoryUsage          AlarmType = "core_memory_usage"
	AlarmHAVersion                AlarmType = "ha_version"
	AlarmHostNetworkIn            AlarmType = "host_network_in"
	AlarmHostNetworkOut           AlarmType = "host_network_out"
	AlarmAddonCPUUsage            AlarmType = "addon_cpu_usage"
	AlarmAddonMemoryUsage         AlarmType = "addon_memory_usage"
	AlarmAddonRunning             AlarmType = "addon_running"
	AlarmZigbeeLinkQuality        AlarmType = "zigbee_link_quality"
	AlarmZigbeeLastSeen           AlarmType = "zigbee_last_seen"
	AlarmLogTextMatch             AlarmType = "log_text_match"
	AlarmAutomationLastTriggered  AlarmType = "automation_last_triggered"
	AlarmScriptLastTriggered      AlarmType = "script_last_triggered"
	AlarmSceneLastActivated       AlarmType = "scene_last_activated"
	AlarmFrontendPingLatency      AlarmType = "frontend_ping_latency"
	AlarmFrontendPingUnresponsive AlarmType = "frontend_ping_unresponsive"
	AlarmFrontendBadContent       AlarmType = "frontend_bad_content"
)

// Measure names that do not map one-to-one onto an alarm type.
const (
	MetricPing      = "ping_fixed"
	MetricLogPrefix = "logs-"
)

// CatalogEntry describes how an alarm type is collected and evaluated.
type CatalogEntry struct {
	Type     AlarmType
	Category Category
	Family   Family

	// MetricName is the exact measure name, or the prefix when Prefix is set.
	MetricName string
	Prefix     bool

	Scope Scope

	// Presence, when set, turns a ping alarm into a grouped-count query
	// constrained by this dimension; any row means triggered.
	Presence *Dimension
}

var catalog = map[AlarmType]CatalogEntry{}

func register(e CatalogEntry) {
	if e.MetricName == "" {
		e.MetricName = string(e.Type)
	}
	catalog[e.Type] = e
}

func init() {
	for _, t := range []AlarmType{AlarmHostCPUUsage, AlarmHostMemoryUsage, AlarmCoreCPUUsage, AlarmCoreMemoryUsage, AlarmHAVersion} {
		register(CatalogEntry{Type: t, Category: CategoryCore, Family: FamilyNumeric})
	}
	register(CatalogEntry{Type: AlarmHostDiskUsage, Category: CategoryCore, Family: FamilyNumeric, Scope: ScopeStorages})

	register(CatalogEntry{Type: AlarmHostNetworkIn, Category: CategoryNetwork, Family: FamilyNumeric})
	register(CatalogEntry{Type: AlarmHostNetworkOut, Category: CategoryNetwork, Family: FamilyNumeric})

	register(CatalogEntry{Type: AlarmAddonCPUUsage, Category: CategoryAddon, Family: FamilyNumeric, Scope: ScopeAddons})
	register(CatalogEntry{Type: AlarmAddonMemoryUsage, Category: CategoryAddon, Family: FamilyNumeric, Scope: ScopeAddons})
	register(CatalogEntry{Type: AlarmAddonRunning, Category: CategoryAddon, Family: FamilyExistence, Scope: ScopeAddons})

	register(CatalogEntry{Type: AlarmZigbeeLinkQuality, Category: CategoryZigbee, Family: FamilyNumeric, Scope: ScopeZigbee})
	register(CatalogEntry{Type: AlarmZigbeeLastSeen, Category: CategoryZigbee, Family: FamilyAge, Scope: ScopeZigbee})

	register(CatalogEntry{Type: AlarmLogTextMatch, Category: CategoryLogs, Family: FamilyLog,
		MetricName: MetricLogPrefix, Prefix: true, Scope: ScopeLogConfiguration})

	register(CatalogEntry{Type: AlarmAutomationLastTriggered, Category: CategoryAutomations, Family: FamilyAge, Scope: ScopeAutomations})
	register(CatalogEntry{Type: AlarmScriptLastTriggered, Category: CategoryScripts, Family: FamilyAge, Scope: ScopeScripts})
	register(CatalogEntry{Type: AlarmSceneLastActivated, Category: CategoryScenes, Family: FamilyAge, Scope: ScopeScenes})

	register(CatalogEntry{Type: AlarmFrontendPingLatency, Category: CategoryPing, Family: FamilyPing, MetricName: MetricPing})
	register(CatalogEntry{Type: AlarmFrontendPingUnresponsive, Category: CategoryPing, Family: FamilyPing, MetricName: MetricPing,
		Presence: &Dimension{Name: DimHealthy, Value: "false"}})
	register(CatalogEntry{Type: AlarmFrontendBadContent, Category: CategoryPing, Family: FamilyPing, MetricName: MetricPing,
		Presence: &Dimension{Name: DimHAContent, Value: "false"}})
}

// LookupAlarmType returns the catalog entry for t.
func LookupAlarmType(t AlarmType) (CatalogEntry, error) {
	e, ok := catalog[t]
	if !ok {
		return CatalogEntry{}, fmt.Errorf("%w: %q", ErrUnknownAlarmType, t)
	}
	return e, nil
}

// AlarmTypes returns every catalog type in sorted order.
func AlarmTypes() []AlarmType {
	out := make([]AlarmType, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
