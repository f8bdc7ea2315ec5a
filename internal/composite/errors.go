package composite

import (
	"errors"
	"fmt"
)

// MissingCloudConfigError is returned when the collection being composited
// has no cloud configuration. It wraps the registry's error.
type MissingCloudConfigError struct {
	Collection string
	Err        error
}

func (e *MissingCloudConfigError) Error() string {
	return fmt.Sprintf("cannot mask %s observations: %v", e.Collection, e.Err)
}

func (e *MissingCloudConfigError) Unwrap() error { return e.Err }

// EmptyCandidateListError is returned when a scene/band has no
// observations to fold.
type EmptyCandidateListError struct {
	SceneID string
	Band    string
}

func (e *EmptyCandidateListError) Error() string {
	if e.SceneID == "" {
		return fmt.Sprintf("no observations for band %s", e.Band)
	}
	return fmt.Sprintf("no observations for scene %s band %s", e.SceneID, e.Band)
}

// ErrUnpairedInputs is returned when observations and cloud
// classifications are not supplied one to one.
var ErrUnpairedInputs = errors.New("observations and cloud classifications differ in length")
