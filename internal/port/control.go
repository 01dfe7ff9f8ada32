package port

import (
	"math"

	"github.com/tphakala/signalgraph/internal/events"
)

// floatEpsilon is the tolerance for treating two control values as equal
const floatEpsilon = 1e-6

// Quantize snaps v according to flags: toggles become 0 or 1, integer
// ports are rounded, anything else passes through.
func Quantize(flags Flags, v float32) float32 {
	switch {
	case flags.Has(FlagToggle):
		if v >= 0.001 {
			return 1
		}
		return 0
	case flags.Has(FlagInteger):
		return float32(math.Round(float64(v)))
	default:
		return v
	}
}

// SetControlValue sets the base value of a control port. A normalized val in
// [0,1] maps to min+val*(max-min). The value is quantized and clamped before
// it is committed. A changed value publishes a ValueChanged event when
// notify is set.
func (p *Port) SetControlValue(val float32, normalized, notify bool) error {
	if p.id.Kind != KindControl {
		return ErrNotControl
	}
	if normalized {
		val = p.rng.Min + val*(p.rng.Max-p.rng.Min)
	}
	v := p.rng.Clamp(Quantize(p.id.Flags, val))
	p.base.Store(math.Float32bits(v))
	p.commit(v, notify)
	return nil
}

// Control returns the current value, including CV modulation
func (p *Port) Control() float32 {
	return math.Float32frombits(p.control.Load())
}

// BaseValue returns the value last set with SetControlValue
func (p *Port) BaseValue() float32 {
	return math.Float32frombits(p.base.Load())
}

// Normalized returns the current value mapped to [0,1]
func (p *Port) Normalized() float32 {
	span := p.rng.Max - p.rng.Min
	if span == 0 {
		return 0
	}
	return (p.Control() - p.rng.Min) / span
}

func (p *Port) commit(v float32, notify bool) {
	old := math.Float32frombits(p.control.Swap(math.Float32bits(v)))
	if notify && abs32(old-v) > floatEpsilon {
		p.cfg.publisher().TryPublish(events.Event{
			Kind:   events.KindValueChanged,
			Handle: uint32(p.Handle()),
			Value:  float64(v),
			Source: p.id.OwnerID,
		})
	}
}

// modulate recomputes a CV-modulated control from the first frame of each
// CV source: the first source offsets the base value, later ones offset the
// running result.
func (p *Port) modulate(lo uint32) {
	half := p.rng.Half()
	first := true
	var v float32
	for _, l := range p.sources {
		if !l.Enabled || l.Src.Kind() != KindCV {
			continue
		}
		if first {
			v = p.BaseValue()
			first = false
		}
		v = p.rng.Clamp(v + half*l.Src.buf[lo]*l.Multiplier)
	}
	if first {
		return
	}
	p.commit(v, true)
}
