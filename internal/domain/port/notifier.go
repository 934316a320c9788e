package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, folderID string, userID string, errorMsg string) error
}
