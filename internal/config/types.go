// Package config holds the data model the Config Store produces:
// EnvironmentDescriptor and its nested types, loaded from YAML documents on
// disk by the Store. Only the Store's methods in loader.go touch the
// filesystem, and nothing here mutates engine state.
package config

import "fmt"

// TimeOfDay selects which time-variant override (if any) deep-merges over
// a descriptor's base at activation.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Daytime   TimeOfDay = "daytime"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// AllTimes lists every TimeOfDay in a stable display order.
func AllTimes() []TimeOfDay {
	return []TimeOfDay{Morning, Daytime, Afternoon, Evening}
}

// Valid reports whether t is one of the four recognized values.
func (t TimeOfDay) Valid() bool {
	switch t {
	case Morning, Daytime, Afternoon, Evening:
		return true
	default:
		return false
	}
}

// Descriptor is the immutable value the Config Store hands to the
// Orchestrator. A freshly loaded Descriptor has already deep-merged any
// requested time variant — see Store.Resolve.
type Descriptor struct {
	Name       string     `yaml:"name"`
	Category   string     `yaml:"category,omitempty"`
	Sound      *Sound     `yaml:"sound,omitempty"`
	Music      *Music     `yaml:"music,omitempty"`
	Atmosphere []MixEntry `yaml:"atmosphere,omitempty"`
	Lights     *Animation `yaml:"lights,omitempty"`

	// TimeVariants overrides are kept generic (not typed as Descriptor)
	// because each override is necessarily partial. The Store keeps the
	// untyped base document (document.raw) for the actual deep merge;
	// this field lets callers inspecting a Descriptor directly see what
	// variants exist without going back to the Store. Store.Resolve
	// copies it onto merged results as well.
	TimeVariants map[TimeOfDay]map[string]any `yaml:"time_variants,omitempty"`
}

// HasAnyEngine reports whether the descriptor drives any subsystem at all.
func (d *Descriptor) HasAnyEngine() bool {
	return d.Sound != nil || d.Music != nil || len(d.Atmosphere) > 0 || d.Lights != nil
}

// IsSoundOnly reports whether activating d can only ever affect the
// Player (no lights, no music, no atmosphere) — the layering rule in
// spec §4.1 keys off exactly this shape.
func (d *Descriptor) IsSoundOnly() bool {
	return d.Sound != nil && d.Music == nil && len(d.Atmosphere) == 0 && d.Lights == nil
}

// AvailableTimes reports the variant times declared for d, plus whether
// any exist.
func (d *Descriptor) AvailableTimes() ([]TimeOfDay, bool) {
	if len(d.TimeVariants) == 0 {
		return nil, false
	}
	times := make([]TimeOfDay, 0, len(d.TimeVariants))
	for _, t := range AllTimes() {
		if _, ok := d.TimeVariants[t]; ok {
			times = append(times, t)
		}
	}
	return times, len(times) > 0
}

// Sound is a local or indirected one-shot/loop reference.
type Sound struct {
	// File is either a plain local path, or an indirection of the form
	// "sound_conf:<id>" naming a SoundCollection to resolve at
	// activation time (spec §6).
	File   string `yaml:"file"`
	Volume int    `yaml:"volume"`
	Loop   bool   `yaml:"loop,omitempty"`
}

// CollectionRef reports whether File is a sound_conf: indirection, and if
// so, the collection id.
func (s *Sound) CollectionRef() (id string, ok bool) {
	const prefix = "sound_conf:"
	if len(s.File) <= len(prefix) || s.File[:len(prefix)] != prefix {
		return "", false
	}
	return s.File[len(prefix):], true
}

// Music names an opaque context the Music Client should play.
type Music struct {
	ContextURI string `yaml:"context_uri"`
}

// MixEntry is one looping atmosphere stream within a descriptor's mix.
type MixEntry struct {
	URL          string  `yaml:"url"`
	Volume       int     `yaml:"volume"`
	DisplayName  string  `yaml:"display_name,omitempty"`
	MaxDuration  float64 `yaml:"max_duration,omitempty"`
	FadeDuration float64 `yaml:"fade_duration,omitempty"`

	// Optional/probabilistic mix entries (original_source supplement,
	// SPEC_FULL §3.1). Pool and StartOffset are decoded and carried as
	// data only; nothing in the core reads them.
	Optional    bool    `yaml:"optional,omitempty"`
	Probability float64 `yaml:"probability,omitempty"`
	Pool        string  `yaml:"pool,omitempty"`
	StartOffset float64 `yaml:"start_offset,omitempty"`

	// Retrigger, when set, switches this entry from a continuous loop
	// to a sporadic one-shot-and-repeat mode (SPEC_FULL §3.1).
	Retrigger *Retrigger `yaml:"retrigger,omitempty"`
}

// Retrigger describes a sporadic one-shot playback: play once, wait a
// random delay in [MinDelay, MaxDelay] seconds, repeat at a varied
// volume.
type Retrigger struct {
	MinDelay        float64 `yaml:"min_delay"`
	MaxDelay        float64 `yaml:"max_delay"`
	VolumeVariance  float64 `yaml:"volume_variance,omitempty"`
	PitchVariance   float64 `yaml:"pitch_variance,omitempty"`
}

// Animation is the lights program a descriptor installs.
type Animation struct {
	CycleTime float64                 `yaml:"cycletime"`
	Groups    map[string]GroupProgram `yaml:"groups"`
}

// GroupKind discriminates the tagged GroupProgram union.
type GroupKind string

const (
	GroupRgb             GroupKind = "rgb"
	GroupScene           GroupKind = "scene"
	GroupOff             GroupKind = "off"
	GroupInheritBackdrop GroupKind = "inherit_backdrop"
	GroupInheritOverhead GroupKind = "inherit_overhead"
)

// GroupProgram is a tagged variant keyed by Kind. Exactly one of Rgb /
// Scene is populated, matching Kind; the others are nil.
type GroupProgram struct {
	Kind  GroupKind     `yaml:"type"`
	Rgb   *RgbProgram   `yaml:"-"`
	Scene *SceneProgram `yaml:"-"`
}

// UnmarshalYAML decodes the tagged union: the "type" key selects which
// of the variant-specific fields get parsed.
func (g *GroupProgram) UnmarshalYAML(unmarshal func(any) error) error {
	// Probe into a map so a strict decoder accepts the sibling keys; the
	// variant is then decoded together with its "type" key.
	var probe map[string]any
	if err := unmarshal(&probe); err != nil {
		return err
	}
	kind, _ := probe["type"].(string)
	g.Kind = GroupKind(kind)
	switch g.Kind {
	case GroupRgb:
		var r struct {
			Type       GroupKind `yaml:"type"`
			RgbProgram `yaml:",inline"`
		}
		if err := unmarshal(&r); err != nil {
			return err
		}
		g.Rgb = &r.RgbProgram
	case GroupScene:
		var s struct {
			Type         GroupKind `yaml:"type"`
			SceneProgram `yaml:",inline"`
		}
		if err := unmarshal(&s); err != nil {
			return err
		}
		g.Scene = &s.SceneProgram
	case GroupOff, GroupInheritBackdrop, GroupInheritOverhead:
		// no payload
	default:
		return fmt.Errorf("config: unknown light group type %q", g.Kind)
	}
	return nil
}

// MarshalYAML re-emits the variant actually populated, in the same
// shape UnmarshalYAML reads.
func (g GroupProgram) MarshalYAML() (any, error) {
	switch g.Kind {
	case GroupRgb:
		out := struct {
			Type GroupKind `yaml:"type"`
			RgbProgram `yaml:",inline"`
		}{Type: g.Kind}
		if g.Rgb != nil {
			out.RgbProgram = *g.Rgb
		}
		return out, nil
	case GroupScene:
		out := struct {
			Type GroupKind `yaml:"type"`
			SceneProgram `yaml:",inline"`
		}{Type: g.Kind}
		if g.Scene != nil {
			out.SceneProgram = *g.Scene
		}
		return out, nil
	default:
		return struct {
			Type GroupKind `yaml:"type"`
		}{Type: g.Kind}, nil
	}
}

type RgbProgram struct {
	Base       [3]int      `yaml:"base"`
	Variance   [3]int      `yaml:"variance"`
	Brightness Brightness  `yaml:"brightness"`
	Flash      *Flash      `yaml:"flash,omitempty"`
}

type Brightness struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type Flash struct {
	Probability float64 `yaml:"probability"`
	Color       *[3]int `yaml:"color,omitempty"`
	Brightness  *int    `yaml:"brightness,omitempty"`
	DurationMS  int     `yaml:"duration_ms,omitempty"`
}

type SceneProgram struct {
	SceneIDs       []int       `yaml:"scene_ids,omitempty"`
	SpeedRange     SpeedRange  `yaml:"speed_range,omitempty"`
	Brightness     *Brightness `yaml:"brightness,omitempty"`
	SingleSceneID  *int        `yaml:"single_scene_id,omitempty"`
	SingleSpeed    *int        `yaml:"single_speed,omitempty"`
}

type SpeedRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// SoundCollection is the document a "sound_conf:<id>" reference resolves
// to: a set of alternatives the Orchestrator chooses among uniformly at
// random (spec §6).
type SoundCollection struct {
	ID      string             `yaml:"id"`
	Entries []CollectionEntry  `yaml:"entries"`
}

// CollectionEntry is one alternative within a SoundCollection. Exactly
// one of Path / URL is set.
type CollectionEntry struct {
	Path         string  `yaml:"path,omitempty"`
	URL          string  `yaml:"url,omitempty"`
	Volume       int     `yaml:"volume,omitempty"`
	FadeDuration float64 `yaml:"fade_duration,omitempty"`
}

// IsRemote reports whether this entry must be routed through the
// Download Queue.
func (c CollectionEntry) IsRemote() bool {
	return c.URL != ""
}
