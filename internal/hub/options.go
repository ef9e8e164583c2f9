package hub

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nmdchub/nmdchub/pkg/models"
)

// SetOption adjusts one of the runtime-tunable configuration values. This
// backs the restricted `set` administrative command; anything not listed
// here requires a restart. Caller holds the lock.
func (h *Hub) SetOption(name, value string) error {
	switch name {
	case "stupidfactor":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: stupidfactor must be a positive integer", models.ErrBadArgument)
		}
		h.cfg.StupidFactor = n
	case "maxhistoryrows":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: maxhistoryrows must be a positive integer", models.ErrBadArgument)
		}
		h.cfg.MaxHistoryRows = n
	case "connectchecktime":
		secs, err := ParseDuration(value)
		if err != nil {
			return err
		}
		h.cfg.ConnectCheckTime = time.Duration(secs) * time.Second
	case "descriptionstart":
		h.cfg.DescriptionStart = value
	case "motd":
		h.cfg.MOTD = value
	case "restrictunverifiedusers":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: restrictunverifiedusers must be true or false", models.ErrBadArgument)
		}
		h.cfg.RestrictUnverifiedUsers = b
	default:
		return fmt.Errorf("%w: unknown option %q", models.ErrBadArgument, name)
	}
	return nil
}
