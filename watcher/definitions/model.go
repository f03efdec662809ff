package definitions

import (
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/spance/capwatch/constants"
)

type ModelConfig struct {
	BaseURL   string
	ModelName string
	APIKey    string
	Lang      string

	// Target is the item the classifier is asked about, e.g. "gray hat".
	Target      string
	ImageDetail string

	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// GetPrompt renders the classification instruction for the configured language and target.
func (c *ModelConfig) GetPrompt() string {
	target := c.Target
	if target == "" {
		target = constants.DefaultTarget
	}

	tmpl := constants.ClassifyPrompt_EN
	if c.Lang == constants.LangCN {
		tmpl = constants.ClassifyPrompt_ZH
	}
	return fasttemplate.ExecuteString(tmpl, "{{ ", " }}", map[string]interface{}{
		"target": target,
	})
}
