package config

import (
	"fmt"

	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
)

// Validate checks the structural and range constraints spec §3/§7
// requires of a fully-merged descriptor. An invalid descriptor is
// excluded from the Config Store entirely, never partially loaded.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor: empty name: %w", errs.Invalid)
	}
	if d.Sound != nil {
		if d.Sound.File == "" {
			return fmt.Errorf("descriptor %q: sound.file is empty: %w", d.Name, errs.Invalid)
		}
		if d.Sound.Volume < 1 || d.Sound.Volume > 100 {
			return fmt.Errorf("descriptor %q: sound.volume out of [1,100]: %w", d.Name, errs.Invalid)
		}
	}
	for i, m := range d.Atmosphere {
		if err := m.validate(d.Name, i); err != nil {
			return err
		}
	}
	if d.Lights != nil {
		if err := d.Lights.validate(d.Name); err != nil {
			return err
		}
	}
	for t := range d.TimeVariants {
		if !t.Valid() {
			return fmt.Errorf("descriptor %q: unknown time_variants key %q: %w", d.Name, t, errs.Invalid)
		}
	}
	return nil
}

func (m MixEntry) validate(owner string, idx int) error {
	if m.URL == "" {
		return fmt.Errorf("descriptor %q: atmosphere[%d].url is empty: %w", owner, idx, errs.Invalid)
	}
	if m.Volume < 1 || m.Volume > 100 {
		return fmt.Errorf("descriptor %q: atmosphere[%d].volume out of [1,100]: %w", owner, idx, errs.Invalid)
	}
	if m.MaxDuration < 0 {
		return fmt.Errorf("descriptor %q: atmosphere[%d].max_duration must be positive: %w", owner, idx, errs.Invalid)
	}
	if m.FadeDuration < 0 {
		return fmt.Errorf("descriptor %q: atmosphere[%d].fade_duration must be >= 0: %w", owner, idx, errs.Invalid)
	}
	if m.Probability != 0 && (m.Probability < 0 || m.Probability > 1) {
		return fmt.Errorf("descriptor %q: atmosphere[%d].probability out of [0,1]: %w", owner, idx, errs.Invalid)
	}
	if m.Retrigger != nil {
		if m.Retrigger.MinDelay < 0 || m.Retrigger.MaxDelay < m.Retrigger.MinDelay {
			return fmt.Errorf("descriptor %q: atmosphere[%d].retrigger delay range invalid: %w", owner, idx, errs.Invalid)
		}
	}
	return nil
}

func (a *Animation) validate(owner string) error {
	if a.CycleTime <= 0 {
		return fmt.Errorf("descriptor %q: lights.cycletime must be positive: %w", owner, errs.Invalid)
	}
	for name, g := range a.Groups {
		if err := g.validate(owner, name); err != nil {
			return err
		}
	}
	return nil
}

func (g GroupProgram) validate(owner, group string) error {
	switch g.Kind {
	case GroupRgb:
		if g.Rgb == nil {
			return fmt.Errorf("descriptor %q: group %q: rgb payload missing: %w", owner, group, errs.Invalid)
		}
		return g.Rgb.validate(owner, group)
	case GroupScene:
		if g.Scene == nil {
			return fmt.Errorf("descriptor %q: group %q: scene payload missing: %w", owner, group, errs.Invalid)
		}
		return g.Scene.validate(owner, group)
	case GroupOff, GroupInheritBackdrop, GroupInheritOverhead:
		return nil
	default:
		return fmt.Errorf("descriptor %q: group %q: unknown type %q: %w", owner, group, g.Kind, errs.Invalid)
	}
}

func (r *RgbProgram) validate(owner, group string) error {
	for _, c := range r.Base {
		if c < 0 || c > 255 {
			return fmt.Errorf("descriptor %q: group %q: base color out of [0,255]: %w", owner, group, errs.Invalid)
		}
	}
	if err := r.Brightness.validate(owner, group); err != nil {
		return err
	}
	if r.Flash != nil {
		if r.Flash.Probability < 0 || r.Flash.Probability > 1 {
			return fmt.Errorf("descriptor %q: group %q: flash.probability out of [0,1]: %w", owner, group, errs.Invalid)
		}
	}
	return nil
}

func (b Brightness) validate(owner, group string) error {
	if b.Min < 1 || b.Min > 255 || b.Max < 1 || b.Max > 255 {
		return fmt.Errorf("descriptor %q: group %q: brightness out of [1,255]: %w", owner, group, errs.Invalid)
	}
	if b.Min > b.Max {
		return fmt.Errorf("descriptor %q: group %q: brightness.min > brightness.max: %w", owner, group, errs.Invalid)
	}
	return nil
}

func (s *SceneProgram) validate(owner, group string) error {
	if s.SingleSceneID == nil && len(s.SceneIDs) == 0 {
		return fmt.Errorf("descriptor %q: group %q: scene requires scene_ids or single_scene_id: %w", owner, group, errs.Invalid)
	}
	if s.SingleSpeed == nil {
		if s.SpeedRange.Min < 1 || s.SpeedRange.Max > 200 || s.SpeedRange.Min > s.SpeedRange.Max {
			return fmt.Errorf("descriptor %q: group %q: speed_range out of [1,200]: %w", owner, group, errs.Invalid)
		}
	}
	if s.Brightness != nil {
		if err := s.Brightness.validate(owner, group); err != nil {
			return err
		}
	}
	return nil
}
