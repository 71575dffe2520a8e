package connector

import "github.com/ceyewan/fedgate/xerrors"

var (
	ErrConnection  = xerrors.New("connector: connection failed")
	ErrConfig      = xerrors.Wrap(xerrors.ErrInvalidInput, "connector: invalid config")
	ErrHealthCheck = xerrors.New("connector: health check failed")
	ErrClientNil   = xerrors.New("connector: client not initialized")
)
