package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

var (
	ErrJobNotFound      = fmt.Errorf("job %w", ErrNotFound)
	ErrRuleNotFound     = fmt.Errorf("rule %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
	ErrSettingsNotFound = fmt.Errorf("integration settings %w", ErrNotFound)
)

// Job-level validation failures. The message doubles as the last_error value.
var (
	ErrInvalidRecipientPhone = errors.New("invalid_recipient_phone")
	ErrEmptyRenderedTemplate = errors.New("empty_rendered_template")
)

var (
	ErrClaimLost         = errors.New("job claim lost to another invocation")
	ErrMissingMessageID  = errors.New("missing_message_id")
	ErrMissingParameters = errors.New("missing_parameters")
	ErrAlreadyRunning    = errors.New("already_running")
)
