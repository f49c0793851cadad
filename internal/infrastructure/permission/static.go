// Package permission provides the host-side notification capability for headless runs.
package permission

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
)

// Static holds a configured permission. A request resolves an undetermined value to
// onRequest; granted and denied are final, as in a browser.
type Static struct {
	mu        sync.RWMutex
	current   model.Permission
	onRequest model.Permission
}

func NewStatic(current, onRequest model.Permission) *Static {
	if current == "" {
		current = model.PermissionUndetermined
	}
	if onRequest == "" {
		onRequest = model.PermissionGranted
	}
	return &Static{current: current, onRequest: onRequest}
}

func (s *Static) NotificationPermission(ctx context.Context) model.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Static) RequestNotificationPermission(ctx context.Context) (model.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == model.PermissionUndetermined {
		s.current = s.onRequest
		log.Info().Str("permission", string(s.current)).Msg("notification permission resolved")
	}
	return s.current, nil
}

// Set changes the permission at runtime, e.g. from a control command.
func (s *Static) Set(p model.Permission) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

var (
	_ port.PermissionSource    = (*Static)(nil)
	_ port.PermissionRequester = (*Static)(nil)
)
