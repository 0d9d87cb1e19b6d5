package sandbox

import "errors"

var (
	ErrContainerNotFound = errors.New("container not found")

	ErrContainerStartFailed = errors.New("failed to start container")

	ErrImageNotFound = errors.New("image not found")

	ErrExecFailed = errors.New("exec failed")
)
