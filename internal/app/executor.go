package app

import (
	"context"

	"quicktimerd/internal/actions"
)

func (e executor) Execute(ctx context.Context, entityID, action string) error {
	call := actions.Resolve(entityID, action)
	return e.ha.CallService(ctx, call.Domain, call.Service, call.Data)
}
