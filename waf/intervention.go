package waf

import "errors"

// Intervention is the verdict of an inspection phase that wants normal processing stopped.
type Intervention struct {
	Status     int    // HTTP status code the engine wants returned
	Pause      int    // Advisory delay. Not acted upon by the middleware.
	URL        string // Redirect target, empty if absent
	Log        string // Explanation text, empty if absent
	Disruptive bool
}

// AsIntervention reports whether err carries an intervention raised by a phase.
func AsIntervention(err error) (it Intervention, phase Phase, ok bool) {
	var ie *InterventionError
	if errors.As(err, &ie) {
		return ie.Intervention, ie.Phase, true
	}
	return
}
