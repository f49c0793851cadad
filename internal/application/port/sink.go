package port

import (
	"context"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/domain/service"
)

// TriggerEmitter is what the alert engine fires into.
type TriggerEmitter = service.TriggerEmitter

// PermissionSource is the host-owned notification capability. It is read on
// every delivery and never cached by the core.
type PermissionSource interface {
	NotificationPermission(ctx context.Context) model.Permission
}

// PermissionRequester is optionally implemented by sources that can prompt the user.
type PermissionRequester interface {
	RequestNotificationPermission(ctx context.Context) (model.Permission, error)
}

// UserNotifier shows an OS/desktop-level notification. Gated by PermissionSource.
type UserNotifier interface {
	Name() string
	Notify(ctx context.Context, ev model.TriggerEvent) error
}

// EventPublisher forwards trigger events to other processes (not permission gated).
type EventPublisher interface {
	Name() string
	PublishTrigger(ctx context.Context, ev model.TriggerEvent) error
}
