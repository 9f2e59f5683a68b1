package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} in s. A ${VAR} whose variable is
// unset is an error; bare $VAR expands to "" as with os.ExpandEnv. $$
// yields a literal $.
func ExpandEnvStrict(s string) (string, error) {
	const dollar = "\x00QUERYCACHE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	for _, m := range envRef.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok && !slices.Contains(missing, m[1]) {
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), dollar, "$"), nil
}
