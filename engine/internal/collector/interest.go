package collector

import "github.com/pilot-net/hamon/pkg/types"

// selection is the set of entities an alarm type is scoped to.
type selection struct {
	all bool
	ids map[string]struct{}
}

func (s *selection) add(ids ...string) {
	if s.ids == nil {
		s.ids = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

func (s *selection) has(id string) bool {
	if s == nil {
		return false
	}
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// interest maps each configured alarm type to its selected entities.
type interest map[types.AlarmType]*selection

// interestOf collects the enabled configurations. Storage alarms without a
// storage list select every storage; all other scoped lists are strict.
func interestOf(configs []types.AlarmConfiguration) interest {
	in := interest{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		entry, err := types.LookupAlarmType(cfg.Type)
		if err != nil {
			continue
		}
		sel, ok := in[cfg.Type]
		if !ok {
			sel = &selection{}
			in[cfg.Type] = sel
		}

		settings := cfg.Configuration
		switch entry.Scope {
		case types.ScopeNone, types.ScopeLogConfiguration:
			sel.all = true
		case types.ScopeStorages:
			if len(settings.Storages) == 0 {
				sel.all = true
			}
			sel.add(settings.StorageNames()...)
		case types.ScopeAddons:
			sel.add(settings.AddonSlugs()...)
		case types.ScopeZigbee:
			sel.add(settings.ZigbeeIEEEs()...)
		case types.ScopeScripts:
			sel.add(types.EntityIDs(settings.Scripts)...)
		case types.ScopeScenes:
			sel.add(types.EntityIDs(settings.Scenes)...)
		case types.ScopeAutomations:
			sel.add(types.EntityIDs(settings.Automations)...)
		}
	}
	return in
}

func (in interest) wants(t types.AlarmType) bool {
	_, ok := in[t]
	return ok
}

func (in interest) selects(t types.AlarmType, id string) bool {
	return in[t].has(id)
}

func (in interest) anyInCategory(c types.Category) bool {
	for t := range in {
		if e, err := types.LookupAlarmType(t); err == nil && e.Category == c {
			return true
		}
	}
	return false
}
