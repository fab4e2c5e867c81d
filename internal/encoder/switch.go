package encoder

// The switch line is active low.
const switchReleased = true

// switchPressed debounces the switch line. On a press it advances the mode
// and blocks until the switch is released.
func (a *Arbiter) switchPressed(e *encoderState) (bool, error) {
	level, err := a.debounce(a.bus.LineSwitch)
	if err != nil {
		return false, err
	}
	if level == switchReleased {
		return false, nil
	}

	e.mode = (e.mode + 1) % e.cfg.Modes

	if err := a.awaitLevel(a.bus.LineSwitch, switchReleased); err != nil {
		return true, err
	}
	return true, nil
}
