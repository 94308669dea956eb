package sequencer

// BringUpFunc performs the per-axis bring-up sweep (ping, start the
// on-controller program, walk RESET->SEARCH) and reports whether every
// active axis came up ready. *device.BringUp.Run satisfies this shape.
type BringUpFunc func() error

// HandleButton implements the device main loop's button branch
// (main.cpp's io_button() handling): the first press brings up every
// axis; later presses drive to the start pose if not already there,
// otherwise play the committed sequence once through. loop is not
// forced here, matching the button path's bare motion_runSequence()
// call with no PF_LOOP flag.
func (s *Sequencer) HandleButton(bringUp BringUpFunc, poll PollFunc) error {
	if !s.initialised {
		if err := bringUp(); err != nil {
			return err
		}
		s.initialised = true
		if len(s.frames) > 0 && s.IsInStartPosition() {
			s.applyOutput(s.frames[0].OutputCommand)
		}
		return nil
	}

	if !s.IsInStartPosition() {
		return s.DoStartKeyframe()
	}

	return s.RunSequence(false, poll)
}
