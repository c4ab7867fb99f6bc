package config

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	config, err := Load([]byte(""))
	assert.Nil(t, err)
	assert.Equal(t, Default(), config)
	assert.Equal(t, "socketcan", config.Bus.Interface)
	assert.Equal(t, time.Second, config.SDO.Timeout)
	assert.Equal(t, log.InfoLevel, config.Log.Level)
}

func TestLoad(t *testing.T) {
	raw := `
[bus]
interface = virtual
channel = test
bitrate = 250000

[sdo]
timeout_ms = 300
send_timeout_ms = 5

[log]
level = debug
`
	config, err := Load([]byte(raw))
	assert.Nil(t, err)
	assert.Equal(t, BusConfig{Interface: "virtual", Channel: "test", Bitrate: 250000}, config.Bus)
	assert.Equal(t, 300*time.Millisecond, config.SDO.Timeout)
	assert.Equal(t, 5*time.Millisecond, config.SDO.SendTimeout)
	assert.Equal(t, log.DebugLevel, config.Log.Level)
}

func TestLoadPartial(t *testing.T) {
	config, err := Load([]byte("[bus]\nchannel = vcan0\n"))
	assert.Nil(t, err)
	assert.Equal(t, "vcan0", config.Bus.Channel)
	assert.Equal(t, DefaultInterface, config.Bus.Interface)
	assert.Equal(t, DefaultBitrate, config.Bus.Bitrate)
}

func TestLoadInvalid(t *testing.T) {
	for _, raw := range []string{
		"[bus]\nbitrate = fast\n",
		"[sdo]\ntimeout_ms = -1\n",
		"[sdo]\nsend_timeout_ms = 0\n",
		"[log]\nlevel = loud\n",
	} {
		_, err := Load([]byte(raw))
		assert.NotNil(t, err, raw)
	}
	_, err := Load("does/not/exist.ini")
	assert.NotNil(t, err)
}
