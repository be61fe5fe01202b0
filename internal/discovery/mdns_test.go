// ABOUTME: Tests for mDNS advertisement naming and TXT records
// ABOUTME: Does not touch the network
package discovery

import (
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDeviceIDIsStable(t *testing.T) {
	id := DeviceID("kitchen-renderer")
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{12}$`), id)
	assert.Equal(t, id, DeviceID("kitchen-renderer"))
	assert.NotEqual(t, id, DeviceID("den-renderer"))
}

func TestRAOPInstance(t *testing.T) {
	assert.Equal(t, DeviceID("den")+"@den", RAOPInstance("den"))
}

func TestRAOPRecords(t *testing.T) {
	txt := RAOPRecords(Config{SampleRate: 44100, Channels: 2, BitDepth: 16, Version: "0.3.0"})
	assert.Contains(t, txt, "sr=44100")
	assert.Contains(t, txt, "ch=2")
	assert.Contains(t, txt, "ss=16")
	assert.Contains(t, txt, "tp=UDP")
	assert.Contains(t, txt, "am=0.3.0")
	assert.Equal(t, "txtvers=1", txt[0])
}

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{Name: "Test Renderer", RAOPPort: 5000}, zerolog.Nop())
	assert.NotNil(t, mgr.ctx)
	mgr.Stop()
	assert.Error(t, mgr.ctx.Err())
}
