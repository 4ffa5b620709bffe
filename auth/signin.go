// Package auth handles the two credential paths of the plugin: the agent's
// device-code sign-in, and the GitHub tokens the chat backend uses, kept in
// an encrypted file on disk.
package auth

import (
	"context"

	"github.com/teranos/ghostline/agent/rpc"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// DeviceCode is what the user needs to authorize this machine.
type DeviceCode struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       int
	Interval        int
}

// Prompter shows a device code to the user. It returns once the user says
// the code was entered, or with an error if they dismissed the prompt.
type Prompter interface {
	PromptDeviceCode(ctx context.Context, code DeviceCode) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, code DeviceCode) error

func (f PrompterFunc) PromptDeviceCode(ctx context.Context, code DeviceCode) error {
	return f(ctx, code)
}

// DeviceFlow is the agent side of sign-in. *rpc.Session implements it.
type DeviceFlow interface {
	RequestSignIn(ctx context.Context) (rpc.SignInInitiateResult, error)
	ConfirmSignIn(ctx context.Context, userCode string) (rpc.StatusResult, error)
}

// SignIn runs the agent's device-code flow and returns the signed-in user.
func SignIn(ctx context.Context, flow DeviceFlow, prompter Prompter) (string, error) {
	initiate, err := flow.RequestSignIn(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to start sign-in")
	}
	if initiate.Status == rpc.StatusAlreadySignedIn {
		logger.Logger.Infow("Agent already signed in", "user", initiate.User)
		return initiate.User, nil
	}
	if initiate.UserCode == "" {
		return "", errors.Request(errors.Newf("agent returned no user code (status %q)", initiate.Status))
	}
	if prompter == nil {
		return "", errors.WithHint(
			errors.New("sign-in requires user interaction"),
			"run 'ghostline signin' from a terminal")
	}

	code := DeviceCode{
		UserCode:        initiate.UserCode,
		VerificationURI: initiate.VerificationURI,
		ExpiresIn:       initiate.ExpiresIn,
		Interval:        initiate.Interval,
	}
	if err := prompter.PromptDeviceCode(ctx, code); err != nil {
		return "", errors.Wrap(err, "sign-in cancelled")
	}

	status, err := flow.ConfirmSignIn(ctx, initiate.UserCode)
	if err != nil {
		return "", errors.Wrap(err, "failed to confirm sign-in")
	}
	switch status.Status {
	case rpc.StatusOK, rpc.StatusAlreadySignedIn:
		logger.Logger.Infow("Signed in", "user", status.User)
		return status.User, nil
	default:
		return "", errors.Request(errors.Newf("sign-in not confirmed: status %s", status.Status))
	}
}

// SignOut signs the agent out.
func SignOut(ctx context.Context, flow interface {
	SignOut(ctx context.Context) error
}) error {
	if err := flow.SignOut(ctx); err != nil {
		return errors.Wrap(err, "failed to sign out")
	}
	return nil
}
