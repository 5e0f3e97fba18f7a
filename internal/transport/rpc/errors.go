package rpc

import (
	"errors"
	"net/rpc"
	"strings"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// net/rpc only carries error strings, so the kind travels as a "kind: message" prefix.

func encodeError(err error) error {
	kind := domain.KindOf(err)
	message := domain.MessageOf(err)
	if kind == domain.KindInternal {
		message = "internal error"
	}
	return errors.New(string(kind) + ": " + message)
}

func decodeError(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	kind, message, ok := strings.Cut(string(serverErr), ": ")
	if !ok {
		return err
	}
	switch k := domain.ErrorKind(kind); k {
	case domain.KindValidation, domain.KindUnauthorized, domain.KindForbidden, domain.KindNotFound,
		domain.KindConflict, domain.KindState, domain.KindUnavailable, domain.KindTimeout, domain.KindInternal:
		return domain.NewError(k, "%s", message)
	}
	return err
}
