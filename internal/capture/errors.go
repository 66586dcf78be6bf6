package capture

import (
	"errors"
	"fmt"

	"github.com/pagekeep/pagekeep/internal/archive"
)

var errNilCurated = errors.New("curated request without selection")

func errUnknownRequestKind(kind archive.RequestKind) error {
	return fmt.Errorf("unknown request kind %q", kind)
}
