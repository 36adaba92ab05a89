package lights

import (
	"encoding/json"
	"math/rand"

	"github.com/indubitablygregarious/immerse-yourself/internal/config"
)

// Pilot is one UDP payload instructing a group of fixtures to a specific
// color/brightness/scene/speed for one tick (spec §6).
type Pilot struct {
	R       *int `json:"r,omitempty"`
	G       *int `json:"g,omitempty"`
	B       *int `json:"b,omitempty"`
	Dimming *int `json:"dimming,omitempty"`
	SceneID *int `json:"sceneId,omitempty"`
	Speed   *int `json:"speed,omitempty"`
}

type wizMessage struct {
	Method string `json:"method"`
	Params Pilot  `json:"params"`
}

// Marshal encodes the pilot as the "setPilot" WIZ datagram payload.
func (p Pilot) Marshal() ([]byte, error) {
	return json.Marshal(wizMessage{Method: "setPilot", Params: p})
}

func offPilot() Pilot {
	zero := 0
	return Pilot{R: &zero, G: &zero, B: &zero, Dimming: &zero}
}

// generatePilot resolves one group's program into a Pilot for the
// current tick, consulting already-computed pilots for Inherit*
// variants (spec §4.4).
func generatePilot(gp config.GroupProgram, computed map[string]Pilot) Pilot {
	switch gp.Kind {
	case config.GroupRgb:
		return generateRgbPilot(gp.Rgb)
	case config.GroupScene:
		return generateScenePilot(gp.Scene)
	case config.GroupOff:
		return offPilot()
	case config.GroupInheritBackdrop:
		if pilot, ok := computed[GroupBackdrop]; ok {
			return pilot
		}
		return offPilot()
	case config.GroupInheritOverhead:
		if pilot, ok := computed[GroupOverhead]; ok {
			return pilot
		}
		return offPilot()
	default:
		return offPilot()
	}
}

func generateRgbPilot(rgb *config.RgbProgram) Pilot {
	if rgb == nil {
		return offPilot()
	}
	r := applyVariance(rgb.Base[0], rgb.Variance[0])
	g := applyVariance(rgb.Base[1], rgb.Variance[1])
	b := applyVariance(rgb.Base[2], rgb.Variance[2])
	dimming := uniformInt(rgb.Brightness.Min, rgb.Brightness.Max)

	if rgb.Flash != nil && rand.Float64() < rgb.Flash.Probability {
		if rgb.Flash.Color != nil {
			r, g, b = rgb.Flash.Color[0], rgb.Flash.Color[1], rgb.Flash.Color[2]
		}
		if rgb.Flash.Brightness != nil {
			dimming = *rgb.Flash.Brightness
		}
	}

	return Pilot{R: &r, G: &g, B: &b, Dimming: &dimming}
}

func generateScenePilot(sp *config.SceneProgram) Pilot {
	if sp == nil {
		return offPilot()
	}

	sceneID := 0
	if sp.SingleSceneID != nil {
		sceneID = *sp.SingleSceneID
	} else if len(sp.SceneIDs) > 0 {
		sceneID = sp.SceneIDs[rand.Intn(len(sp.SceneIDs))]
	}

	speed := 0
	switch {
	case sp.SingleSpeed != nil:
		speed = *sp.SingleSpeed
	default:
		speed = uniformInt(sp.SpeedRange.Min, sp.SpeedRange.Max)
	}

	dimming := 100
	if sp.Brightness != nil {
		dimming = uniformInt(sp.Brightness.Min, sp.Brightness.Max)
	}

	return Pilot{SceneID: &sceneID, Speed: &speed, Dimming: &dimming}
}

// applyVariance draws a uniform offset in [-v, +v], adds it to base, and
// clips to [0, 255].
func applyVariance(base, variance int) int {
	v := base
	if variance > 0 {
		v += rand.Intn(2*variance+1) - variance
	}
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return v
}

func uniformInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}
