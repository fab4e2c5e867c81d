package encoder

// decodeFourStep fires on a rising edge of A only. Both lines idle high at a
// detent, so B at the moment A rises gives the direction.
func decodeFourStep(lastA, a, b bool) Signal {
	if lastA || !a {
		return None
	}
	if b {
		return Clockwise
	}
	return CounterClockwise
}

// decodeTwoStep fires on both edges of A.
func decodeTwoStep(lastA, a, b bool) Signal {
	switch {
	case lastA && !a:
		if b {
			return Clockwise
		}
		return CounterClockwise
	case !lastA && a:
		if b {
			return CounterClockwise
		}
		return Clockwise
	}
	return None
}

// decode samples the bus for the selected encoder. A is debounced; B gets a
// single immediate read, and a four-step encoder only reads it when A rose.
// lastA is updated on every successful call.
func (a *Arbiter) decode(e *encoderState) (Signal, error) {
	levelA, err := a.debounce(a.bus.LineA)
	if err != nil {
		return None, err
	}

	var levelB bool
	if e.cfg.Type == TwoStep || (!e.lastA && levelA) {
		levelB, err = a.readLine(a.bus.LineB)
		if err != nil {
			return None, err
		}
	}

	var s Signal
	switch e.cfg.Type {
	case FourStep:
		s = decodeFourStep(e.lastA, levelA, levelB)
	case TwoStep:
		s = decodeTwoStep(e.lastA, levelA, levelB)
	}
	e.lastA = levelA
	return s, nil
}
