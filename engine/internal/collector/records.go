package collector

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/pilot-net/hamon/engine/internal/condition"
	"github.com/pilot-net/hamon/pkg/types"
)

const (
	percentDecimals = 2
	rateDecimals    = 2
)

// ObservationRecords derives records from an observation.
func ObservationRecords(installationID string, obs *types.Observation, ts time.Time, configs []types.AlarmConfiguration, logger *slog.Logger) []types.MetricRecord {
	in := interestOf(configs)
	var out []types.MetricRecord

	numeric := func(t types.AlarmType, v float64, decimals int, dims ...types.Dimension) {
		out = append(out, types.NewNumericRecord(installationID, string(t), v, decimals, ts, dims...))
	}

	if in.wants(types.AlarmHAVersion) && obs.HAVersion != "" {
		if v, err := ParseVersion(obs.HAVersion); err == nil {
			numeric(types.AlarmHAVersion, float64(v), 0)
		} else {
			logger.Warn("unparseable ha version", "installation_id", installationID, "version", obs.HAVersion)
		}
	}

	host := obs.Host
	if in.wants(types.AlarmHostCPUUsage) && host.CPUPercent != nil {
		numeric(types.AlarmHostCPUUsage, *host.CPUPercent, percentDecimals)
	}
	if in.wants(types.AlarmHostMemoryUsage) && host.Memory != nil && host.Memory.Total > 0 {
		numeric(types.AlarmHostMemoryUsage, MemoryFreePercent(*host.Memory), 0)
	}
	if in.wants(types.AlarmHostDiskUsage) {
		seen := map[string]bool{}
		for _, st := range host.Storages {
			if st.Name == "" || seen[st.Name] || st.TotalBytes == 0 {
				continue
			}
			seen[st.Name] = true
			if !in.selects(types.AlarmHostDiskUsage, st.Name) {
				continue
			}
			used := float64(st.UsedBytes) / float64(st.TotalBytes) * 100
			numeric(types.AlarmHostDiskUsage, used, percentDecimals, types.Dimension{Name: types.DimStorageName, Value: st.Name})
		}
	}
	if net := host.Network; net != nil {
		if in.wants(types.AlarmHostNetworkIn) {
			numeric(types.AlarmHostNetworkIn, net.RxBytesPerSecond, rateDecimals)
		}
		if in.wants(types.AlarmHostNetworkOut) {
			numeric(types.AlarmHostNetworkOut, net.TxBytesPerSecond, rateDecimals)
		}
	}

	if core := obs.Core; core != nil {
		if in.wants(types.AlarmCoreCPUUsage) {
			numeric(types.AlarmCoreCPUUsage, core.CPUPercent, percentDecimals)
		}
		if in.wants(types.AlarmCoreMemoryUsage) {
			numeric(types.AlarmCoreMemoryUsage, core.MemoryPercent, percentDecimals)
		}
	}

	for _, dev := range obs.ZigbeeDevices {
		if dev.IEEE == "" {
			continue
		}
		dim := types.Dimension{Name: types.DimIEEE, Value: dev.IEEE}
		if dev.LinkQuality != nil && in.selects(types.AlarmZigbeeLinkQuality, dev.IEEE) {
			numeric(types.AlarmZigbeeLinkQuality, *dev.LinkQuality, 0, dim)
		}
		if dev.LastSeen != nil && in.selects(types.AlarmZigbeeLastSeen, dev.IEEE) {
			numeric(types.AlarmZigbeeLastSeen, float64(dev.LastSeen.Unix()), 0, dim)
		}
	}

	for _, a := range obs.Automations {
		if a.ID == "" || a.LastTriggered == nil || !in.selects(types.AlarmAutomationLastTriggered, a.ID) {
			continue
		}
		numeric(types.AlarmAutomationLastTriggered, float64(a.LastTriggered.Unix()), 0,
			types.Dimension{Name: types.DimAutomationID, Value: a.ID})
	}
	for _, s := range obs.Scripts {
		if s.UniqueID == "" || s.LastTriggered == nil || !in.selects(types.AlarmScriptLastTriggered, s.UniqueID) {
			continue
		}
		numeric(types.AlarmScriptLastTriggered, float64(s.LastTriggered.Unix()), 0,
			types.Dimension{Name: types.DimScriptID, Value: s.UniqueID})
	}
	for _, s := range obs.Scenes {
		if s.ID == "" || s.LastActivated == nil || !in.selects(types.AlarmSceneLastActivated, s.ID) {
			continue
		}
		numeric(types.AlarmSceneLastActivated, float64(s.LastActivated.Unix()), 0,
			types.Dimension{Name: types.DimSceneID, Value: s.ID})
	}

	return out
}

// AddonRecords derives addon records.
func AddonRecords(installationID string, list *types.AddonList, ts time.Time, configs []types.AlarmConfiguration) []types.MetricRecord {
	in := interestOf(configs)
	var out []types.MetricRecord
	seen := map[string]bool{}

	for _, a := range list.Addons {
		if a.Slug == "" || seen[a.Slug] {
			continue
		}
		seen[a.Slug] = true
		dim := types.Dimension{Name: types.DimAddonSlug, Value: a.Slug}

		if a.CPUPercent != nil && in.selects(types.AlarmAddonCPUUsage, a.Slug) {
			out = append(out, types.NewNumericRecord(installationID, string(types.AlarmAddonCPUUsage), *a.CPUPercent, percentDecimals, ts, dim))
		}
		if a.MemoryPercent != nil && in.selects(types.AlarmAddonMemoryUsage, a.Slug) {
			out = append(out, types.NewNumericRecord(installationID, string(types.AlarmAddonMemoryUsage), *a.MemoryPercent, percentDecimals, ts, dim))
		}
		if in.selects(types.AlarmAddonRunning, a.Slug) {
			running := 0.0
			if a.State == "started" {
				running = 1
			}
			out = append(out, types.NewNumericRecord(installationID, string(types.AlarmAddonRunning), running, 0, ts, dim))
		}
	}
	return out
}

// LogRecords derives one record per distinct log line matching a LOGS
// alarm's text condition. Only a hash of the line is kept.
func LogRecords(installationID string, update *types.LogUpdate, ts time.Time, configs []types.AlarmConfiguration, logger *slog.Logger) []types.MetricRecord {
	lines := strings.Split(update.Content, "\n")
	var out []types.MetricRecord

	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Type != types.AlarmLogTextMatch || cfg.Configuration.TextCondition == nil {
			continue
		}
		cond := *cfg.Configuration.TextCondition
		fingerprint := Fingerprint(cfg)
		seen := map[string]bool{}

		for _, line := range lines {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			ok, err := condition.IsValid(line, cond)
			if err != nil {
				logger.Warn("skipping log alarm with invalid condition",
					"installation_id", installationID,
					"configuration_id", cfg.ID,
					"error", err,
				)
				break
			}
			if !ok {
				continue
			}
			hash := ContentHash(line)
			if seen[hash] {
				continue
			}
			seen[hash] = true
			out = append(out, types.NewTextRecord(installationID, types.MetricLogPrefix+hash, fingerprint, ts,
				types.Dimension{Name: types.DimConfigurationID, Value: cfg.ID}))
		}
	}
	return out
}

// PingRecords derives the ping record when a PING alarm exists.
func PingRecords(ping *types.InstallationPing, ts time.Time, configs []types.AlarmConfiguration) []types.MetricRecord {
	if !interestOf(configs).anyInCategory(types.CategoryPing) {
		return nil
	}
	return []types.MetricRecord{
		types.NewNumericRecord(ping.InstallationID, types.MetricPing, float64(ping.ResponseTimeMilliseconds), 0, ts,
			types.Dimension{Name: types.DimHealthy, Value: strconv.FormatBool(ping.IsHealthy)},
			types.Dimension{Name: types.DimHAContent, Value: strconv.FormatBool(ping.HasHomeAssistantContent)},
		),
	}
}

// ParseVersion strips dots from a version string and parses the rest as an
// integer, so "2024.1.0" becomes 202410.
func ParseVersion(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), ".", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", v, err)
	}
	return n, nil
}

// MemoryFreePercent returns the rounded share of free memory.
func MemoryFreePercent(m types.MemoryStats) float64 {
	return math.Round(float64(m.Free) / float64(m.Total) * 100)
}

// ContentHash returns the hex BLAKE2b-256 digest of a log line.
func ContentHash(line string) string {
	sum := blake2b.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies the text condition a log record was matched with.
func Fingerprint(cfg types.AlarmConfiguration) string {
	var cond types.TextCondition
	if cfg.Configuration.TextCondition != nil {
		cond = *cfg.Configuration.TextCondition
	}
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%t", cfg.ID, cond.Matcher, cond.Text, cond.CaseSensitive)
	return strconv.FormatUint(h.Sum64(), 16)
}
