package dynamicanalysis

import (
	"strings"
	"time"

	"github.com/cuemby/vigil/pkg/sandbox"
	"github.com/cuemby/vigil/pkg/types"
)

// fileModRateThreshold and fileModRateWindow implement heuristic (a):
// file_modification_rate >= 50/s sustained for >= 3s (spec.md §4.3).
const (
	fileModRateThreshold = 50.0
	fileModRateWindow    = 3 * time.Second
	renameExtensionCount = 20
)

// Accumulator consumes one sandbox execution's observation stream and
// builds up the typed finding buckets a BehavioralReport needs.
type Accumulator struct {
	ArtifactID string
	TenantID   string

	fileOps       []types.Finding
	registryOps   []types.Finding
	processEvents []types.Finding
	networkEvents []types.Finding

	fileModTimestamps []time.Time
	renamedExtensions map[string]bool
	shadowCopyDeleted bool
	highEntropyOverwrite bool

	runKeyWrite        bool
	scheduledTaskCreate bool
	serviceInstall      bool
	tokenManipulation   bool
	processInjection    bool

	dataExfilSuspected      bool
	lateralMovementSuspected bool
	defenseEvasionSuspected  bool

	distinctRemoteHosts map[string]bool
}

// NewAccumulator starts a fresh accumulator for one artifact execution.
func NewAccumulator(artifactID, tenantID string) *Accumulator {
	return &Accumulator{
		ArtifactID:          artifactID,
		TenantID:            tenantID,
		renamedExtensions:   make(map[string]bool),
		distinctRemoteHosts: make(map[string]bool),
	}
}

// Observe processes one sandbox observation event, updating every
// relevant heuristic.
func (a *Accumulator) Observe(ev sandbox.Event) {
	detail := strings.ToLower(ev.Detail)

	switch ev.Kind {
	case sandbox.EventFileOp:
		a.observeFileOp(ev, detail)
	case sandbox.EventRegistryOp:
		a.observeRegistryOp(ev, detail)
	case sandbox.EventProcess:
		a.observeProcess(ev, detail)
	case sandbox.EventDNSQuery, sandbox.EventHTTPAttempt, sandbox.EventConnAttempt:
		a.observeNetwork(ev, detail)
	}
}

func (a *Accumulator) observeFileOp(ev sandbox.Event, detail string) {
	a.fileOps = append(a.fileOps, types.Finding{
		Kind: "file_op", Name: string(ev.Kind), Detail: ev.Detail, ObservedAt: ev.ObservedAt,
	})

	if strings.Contains(detail, "modify") || strings.Contains(detail, "write") {
		a.fileModTimestamps = append(a.fileModTimestamps, ev.ObservedAt)
	}

	if strings.Contains(detail, "vssadmin") && strings.Contains(detail, "delete") && strings.Contains(detail, "shadow") {
		a.shadowCopyDeleted = true
		a.defenseEvasionSuspected = true // inhibiting recovery is defense evasion, not just a ransomware trait
	}

	if strings.Contains(detail, "rename") {
		if ext := extractRenameExtension(detail); ext != "" && !isNativeExtension(ext) {
			a.renamedExtensions[ext] = true
		}
	}

	if strings.Contains(detail, "high_entropy_overwrite") || strings.Contains(detail, "high-entropy write") {
		a.highEntropyOverwrite = true
	}

	if strings.Contains(detail, "run_key") || strings.Contains(detail, "hkcu\\software\\microsoft\\windows\\currentversion\\run") ||
		strings.Contains(detail, "autostart") {
		a.runKeyWrite = true
	}
}

func (a *Accumulator) observeRegistryOp(ev sandbox.Event, detail string) {
	a.registryOps = append(a.registryOps, types.Finding{
		Kind: "registry_op", Name: string(ev.Kind), Detail: ev.Detail, ObservedAt: ev.ObservedAt,
	})

	if strings.Contains(detail, "currentversion\\run") || strings.Contains(detail, "autostart") {
		a.runKeyWrite = true
	}
	if strings.Contains(detail, "uac") || strings.Contains(detail, "token") {
		a.tokenManipulation = true
	}
}

func (a *Accumulator) observeProcess(ev sandbox.Event, detail string) {
	a.processEvents = append(a.processEvents, types.Finding{
		Kind: "process", Name: string(ev.Kind), Detail: ev.Detail, ObservedAt: ev.ObservedAt,
	})

	if strings.Contains(detail, "schtasks") || strings.Contains(detail, "scheduled task") {
		a.scheduledTaskCreate = true
	}
	if strings.Contains(detail, "sc create") || strings.Contains(detail, "service install") {
		a.serviceInstall = true
	}
	if strings.Contains(detail, "token") || strings.Contains(detail, "uac bypass") {
		a.tokenManipulation = true
	}
	if containsAll(detail, "openprocess", "writevirtual") || containsAll(detail, "openprocess", "createremotethread") {
		a.processInjection = true
	}
	if strings.Contains(detail, "disable") && (strings.Contains(detail, "defender") || strings.Contains(detail, "antivirus") || strings.Contains(detail, "logging")) {
		a.defenseEvasionSuspected = true
	}
}

func (a *Accumulator) observeNetwork(ev sandbox.Event, detail string) {
	a.networkEvents = append(a.networkEvents, types.Finding{
		Kind: "network", Name: string(ev.Kind), Detail: ev.Detail, ObservedAt: ev.ObservedAt,
	})

	if host := extractHost(detail); host != "" {
		a.distinctRemoteHosts[host] = true
	}

	if strings.Contains(detail, "upload") || strings.Contains(detail, "post ") || strings.Contains(detail, "exfil") {
		a.dataExfilSuspected = true
	}
	if strings.Contains(detail, "smb") || strings.Contains(detail, "psexec") || strings.Contains(detail, "wmi") || strings.Contains(detail, "admin$") {
		a.lateralMovementSuspected = true
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func extractRenameExtension(detail string) string {
	idx := strings.LastIndex(detail, ".")
	if idx < 0 || idx == len(detail)-1 {
		return ""
	}
	end := idx + 1
	for end < len(detail) && detail[end] != ' ' && detail[end] != '"' {
		end++
	}
	return detail[idx:end]
}

var nativeExtensions = map[string]bool{
	".tmp": true, ".log": true, ".bak": true, ".dat": true,
}

func isNativeExtension(ext string) bool {
	return nativeExtensions[ext]
}

func extractHost(detail string) string {
	fields := strings.Fields(detail)
	for _, f := range fields {
		if strings.Contains(f, ".") && !strings.HasPrefix(f, "/") {
			return f
		}
	}
	return ""
}

// fileModificationRate reports whether a sustained window of timestamps
// shows a rate >= fileModRateThreshold ops/s for >= fileModRateWindow
// (spec.md §4.3 heuristic (a), and the report-level ransomware_candidate
// bit).
func (a *Accumulator) fileModificationRate() bool {
	if len(a.fileModTimestamps) < 2 {
		return false
	}

	ts := append([]time.Time(nil), a.fileModTimestamps...)
	for i := range ts {
		windowEnd := ts[i].Add(fileModRateWindow)
		count := 0
		for _, t := range ts[i:] {
			if t.After(windowEnd) {
				break
			}
			count++
		}
		rate := float64(count) / fileModRateWindow.Seconds()
		if rate >= fileModRateThreshold {
			return true
		}
	}
	return false
}
