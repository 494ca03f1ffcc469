package instance

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable both as a gateway instance name and
// as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match ^[A-Za-z0-9_-]{1,64}$", name)
	}
	return nil
}
