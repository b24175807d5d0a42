package email

import (
	"errors"
	"net/textproto"
	"regexp"
	"strconv"

	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
)

var smtpReply = regexp.MustCompile(`(?:^|\s)([45]\d\d)[ -]`)

// classify maps an SMTP failure onto an error kind: rejected credentials are
// auth errors, other permanent replies are validation errors and temporary
// replies or network failures are transient.
func classify(action string, err error) error {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return err
	}

	code := 0
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		code = protoErr.Code
	} else if m := smtpReply.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}

	switch {
	case code == 530 || code == 534 || code == 535:
		return model.Authf("%s: %w", action, err)
	case code >= 500:
		return model.Validationf("%s: %w", action, err)
	case code >= 400:
		return model.Transientf("%s: %w", action, err)
	}
	return publisher.ClassifyTransport(action, err)
}
