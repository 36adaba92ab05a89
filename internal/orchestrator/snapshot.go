package orchestrator

import "github.com/indubitablygregarious/immerse-yourself/internal/config"

// Snapshot is the read-only projection of OrchestratorState published to
// API/UI consumers (spec §6). It is always built fresh from live engine
// state, never cached.
type Snapshot struct {
	ActiveLightsName *string `json:"active_lights_name"`
	ActiveOneShotName *string `json:"active_one_shot_name"`
	ActiveAtmosphereURLs []string `json:"active_atmosphere_urls"`
	ActiveAtmosphereDisplayNames []string `json:"active_atmosphere_display_names"`
	AtmosphereVolumes map[string]int `json:"atmosphere_volumes"`
	CurrentTime config.TimeOfDay `json:"current_time"`
	LampsAvailable bool `json:"lamps_available"`
	MusicAvailable bool `json:"music_available"`
	IsDownloading bool `json:"is_downloading"`
	PendingDownloads int `json:"pending_downloads"`
	AvailableTimes []config.TimeOfDay `json:"available_times"`
	IsSoundsPaused bool `json:"is_sounds_paused"`
	ConfigVersion int `json:"config_version"`
}

// Snapshot builds the current, consistent view of orchestrator state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	lightsName := o.st.activeLightsName
	oneShotName := o.st.activeOneShotName
	currentTime := o.st.currentTime
	isPaused := o.st.isSoundsPaused
	o.mu.Unlock()

	urls, displayNames, volumes := o.atmosphere.ActiveURLs()

	var availableTimes []config.TimeOfDay
	if lightsName != nil {
		if descriptor, ok := o.store.Lookup(*lightsName); ok {
			availableTimes, _ = descriptor.AvailableTimes()
		}
	}

	return Snapshot{
		ActiveLightsName:            lightsName,
		ActiveOneShotName:           oneShotName,
		ActiveAtmosphereURLs:        urls,
		ActiveAtmosphereDisplayNames: displayNames,
		AtmosphereVolumes:           volumes,
		CurrentTime:                 currentTime,
		LampsAvailable:              o.lights.HasBulbs(),
		MusicAvailable:              o.music.IsAvailable(),
		IsDownloading:               o.queue.IsDownloading(),
		PendingDownloads:            o.queue.PendingCount(),
		AvailableTimes:              availableTimes,
		IsSoundsPaused:              isPaused,
		ConfigVersion:               o.store.Version(),
	}
}
