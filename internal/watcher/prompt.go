package watcher

import (
	"context"
	"time"
)

// Prompter asks the user about a detected deployment.
type Prompter interface {
	// Prompt shows the form and collects release notes. submitted is false
	// when the user cancelled.
	Prompt(ctx context.Context, form DeployedForm) (notes string, submitted bool, err error)
	// Confirm briefly shows that the deployment was logged.
	Confirm(ctx context.Context, form DeployedForm, d time.Duration) error
	// Alert reports a failure to the user.
	Alert(ctx context.Context, msg string) error
}
