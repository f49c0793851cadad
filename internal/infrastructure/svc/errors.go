package svc

import "errors"

// ErrNoTickSource no provider could be built from [feed]
var ErrNoTickSource = errors.New("no tick source configured")

// ErrStorageInitFailed a configured store could not be opened
var ErrStorageInitFailed = errors.New("storage initialization failed")
