package obslog_test

import (
	"io"
	"log/slog"
	"testing"

	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/assert"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

func TestSetLevelChangesLevel(t *testing.T) {
	original := obslog.Level()
	defer obslog.SetLevel(original)

	obslog.SetLevel(slog.LevelError)
	assert.Equal(t, slog.LevelError, obslog.Level())

	obslog.SetLevel(obslog.LevelTrace)
	assert.Equal(t, obslog.LevelTrace, obslog.Level())
}

func TestSetDefaultInstallsLogger(t *testing.T) {
	original := obslog.Root()
	defer obslog.SetDefault(original)

	custom := luxlog.NewLogger(slog.NewTextHandler(io.Discard, nil))
	obslog.SetDefault(custom)
	assert.Same(t, custom, obslog.Root())
}
