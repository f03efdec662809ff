package constants

const (
	ClassifyPrompt_ZH = `如果你在图片中看到有人戴着{{ target }}，请返回 true，否则返回 false。`

	ClassifyPrompt_EN = `If you see someone wearing a {{ target }} in the picture, return it as true. Otherwise, return false.`
)

const (
	DefaultTarget = "gray hat"
	DefaultModel  = "gpt-4o-mini"
	DefaultBase   = "https://api.openai.com/v1"
)
