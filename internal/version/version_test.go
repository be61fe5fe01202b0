// ABOUTME: Tests for version constants
// ABOUTME: Ensures version information is defined and usable in headers
package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityDefined(t *testing.T) {
	for name, v := range map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, v)
			assert.Less(t, len(v), 100)
			for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
				assert.NotEqual(t, placeholder, v)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	assert.True(t, strings.HasPrefix(ua, "resonate-renderer/"))
	assert.True(t, strings.HasSuffix(ua, Version))
	assert.NotContains(t, ua, " ")
}
