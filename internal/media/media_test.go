package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentjido/jido-messaging/internal/adapter"
	"github.com/agentjido/jido-messaging/internal/jmconfig"
)

func defaultCfg() jmconfig.Media {
	return jmconfig.Default("inst").Media
}

func TestEvaluate_AdmitsValidImage(t *testing.T) {
	p := New(defaultCfg())
	res := p.Evaluate([]adapter.MediaItem{
		{Kind: "image", MediaType: "image/png", Bytes: []byte("abc")},
	})
	require.False(t, res.Rejected)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "image/png", res.Blocks[0].MimeType)
}

func TestEvaluate_UnsupportedKindRejected(t *testing.T) {
	p := New(defaultCfg())
	res := p.Evaluate([]adapter.MediaItem{{Kind: "sticker", MediaType: "x", Bytes: []byte("a")}})
	assert.True(t, res.Rejected)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, ReasonUnsupportedKind, res.Violations[0].Reason)
}

func TestEvaluate_MissingPayloadRejected(t *testing.T) {
	p := New(defaultCfg())
	res := p.Evaluate([]adapter.MediaItem{{Kind: "image", MediaType: "image/png"}})
	assert.True(t, res.Rejected)
	assert.Equal(t, ReasonMissingPayload, res.Violations[0].Reason)
}

func TestEvaluate_InvalidMediaTypePrefixRejected(t *testing.T) {
	p := New(defaultCfg())
	res := p.Evaluate([]adapter.MediaItem{{Kind: "image", MediaType: "audio/mp3", Bytes: []byte("a")}})
	assert.True(t, res.Rejected)
	assert.Equal(t, ReasonInvalidMediaType, res.Violations[0].Reason)
}

func TestEvaluate_MaxItemBytesExceeded(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxItemBytes = 2
	p := New(cfg)
	res := p.Evaluate([]adapter.MediaItem{{Kind: "image", MediaType: "image/png", Bytes: []byte("abcdef")}})
	assert.True(t, res.Rejected)
	assert.Equal(t, ReasonMaxItemBytesExceeded, res.Violations[0].Reason)
}

func TestEvaluate_MaxItemsExceeded(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxItems = 1
	p := New(cfg)
	res := p.Evaluate([]adapter.MediaItem{
		{Kind: "image", MediaType: "image/png", Bytes: []byte("a")},
		{Kind: "image", MediaType: "image/png", Bytes: []byte("a")},
	})
	assert.True(t, res.Rejected)
	assert.Equal(t, ReasonMaxItemsExceeded, res.Violations[0].Reason)
}

func TestEvaluate_MaxTotalBytesExceeded(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxItemBytes = 10
	cfg.MaxTotalBytes = 15
	p := New(cfg)
	res := p.Evaluate([]adapter.MediaItem{
		{Kind: "image", MediaType: "image/png", Bytes: []byte("0123456789")},
		{Kind: "image", MediaType: "image/png", Bytes: []byte("0123456789")},
	})
	assert.True(t, res.Rejected)
	assert.Equal(t, ReasonMaxTotalBytesExceeded, res.Violations[0].Reason)
}

func TestEvaluate_DropModeKeepsValidItems(t *testing.T) {
	cfg := defaultCfg()
	cfg.OnViolation = "drop"
	p := New(cfg)
	res := p.Evaluate([]adapter.MediaItem{
		{Kind: "sticker", MediaType: "x", Bytes: []byte("a")},
		{Kind: "image", MediaType: "image/png", Bytes: []byte("a")},
	})
	assert.False(t, res.Rejected)
	require.Len(t, res.Blocks, 1)
	require.Len(t, res.Violations, 1)
}

func TestEvaluate_FileKindHasNoMediaTypePrefixRequirement(t *testing.T) {
	p := New(defaultCfg())
	res := p.Evaluate([]adapter.MediaItem{{Kind: "file", MediaType: "application/pdf", Bytes: []byte("a")}})
	assert.False(t, res.Rejected)
	require.Len(t, res.Blocks, 1)
}
