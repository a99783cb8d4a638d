package ledger

import (
	"fmt"

	"ledgercache/pkg/ledgercache"
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledgercache.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledgercache.ErrNotFound, fmt.Sprintf(format, args...))
}
