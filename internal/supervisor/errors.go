// internal/supervisor/errors.go
package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCamera = errors.New("unknown camera")
	ErrLaunch        = errors.New("capture launch failed")
)

// UnknownCameraError: start pedido para um id sem source configurado.
type UnknownCameraError struct {
	CameraID string
}

func (e *UnknownCameraError) Error() string {
	return fmt.Sprintf("unknown camera: %s", e.CameraID)
}

func (e *UnknownCameraError) Is(target error) bool {
	return target == ErrUnknownCamera
}

// LaunchError: falha ao criar o diretório, montar o comando ou subir o processo.
type LaunchError struct {
	CameraID string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("capture launch failed for %s: %v", e.CameraID, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}
