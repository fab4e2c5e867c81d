package encoder

import "fmt"

// readEncoder puts one encoder on the bus, decodes it, checks its switch when
// it did not turn, and always takes it off the bus again.
func (a *Arbiter) readEncoder(e *encoderState) (s Signal, err error) {
	if err := a.selectEncoder(e); err != nil {
		return None, err
	}
	defer func() {
		if derr := a.deselectEncoder(e); derr != nil && err == nil {
			s, err = None, derr
		}
	}()

	s, err = a.decode(e)
	if err != nil || s != None {
		return s, err
	}

	pressed, err := a.switchPressed(e)
	if err != nil {
		return None, err
	}
	if pressed {
		return SwitchPressed, nil
	}
	return None, nil
}

// Probe selects an encoder and returns the raw levels of the shared lines
// without touching decoder or mode state. Used to check wiring.
func (a *Arbiter) Probe(id int) (lv Levels, err error) {
	e, err := a.encoder(id)
	if err != nil {
		return Levels{}, err
	}
	if err := a.selectEncoder(e); err != nil {
		return Levels{}, err
	}
	defer func() {
		if derr := a.deselectEncoder(e); derr != nil && err == nil {
			lv, err = Levels{}, derr
		}
	}()

	if lv.A, err = a.readLine(a.bus.LineA); err != nil {
		return Levels{}, err
	}
	if lv.B, err = a.readLine(a.bus.LineB); err != nil {
		return Levels{}, err
	}
	if lv.Switch, err = a.readLine(a.bus.LineSwitch); err != nil {
		return Levels{}, err
	}
	return lv, nil
}

func (a *Arbiter) selectEncoder(e *encoderState) error {
	if err := a.lines.WriteLine(e.cfg.SelectLine, selectActive); err != nil {
		// The line may be half driven; try to leave it inactive.
		_ = a.lines.WriteLine(e.cfg.SelectLine, selectInactive)
		return fmt.Errorf("select encoder %d (line %d): %w", e.id, e.cfg.SelectLine, err)
	}
	return nil
}

func (a *Arbiter) deselectEncoder(e *encoderState) error {
	if err := a.lines.WriteLine(e.cfg.SelectLine, selectInactive); err != nil {
		return fmt.Errorf("deselect encoder %d (line %d): %w", e.id, e.cfg.SelectLine, err)
	}
	return nil
}

func (a *Arbiter) readLine(line int) (bool, error) {
	v, err := a.lines.ReadLine(line)
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", line, err)
	}
	return v, nil
}
