package config

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrValidationFailed 配置验证失败
	ErrValidationFailed = xerrors.Wrap(xerrors.ErrInvalidInput, "configuration validation failed")

	// ErrNotLoaded 在 Load 之前调用 Watch
	ErrNotLoaded = xerrors.New("config: loader not loaded")
)
