package constants

const (
	LangEN = "en"
	LangCN = "cn"
)

var MESSAGES_EN_MAP = map[string]string{
	"detected":         "Target detected",
	"not_detected":     "Target not detected",
	"listening":        "Web UI listening",
	"no_devices":       "No cameras found.",
	"devices":          "Available cameras",
	"api_check":        "Checking model API",
	"api_check_passed": "Model API checks passed!",
	"shutdown":         "Shutting down",
}

var MESSAGES_ZH_MAP = map[string]string{
	"detected":         "检测到目标",
	"not_detected":     "未检测到目标",
	"listening":        "Web 界面已启动",
	"no_devices":       "未找到摄像头。",
	"devices":          "可用摄像头",
	"api_check":        "正在检查模型 API",
	"api_check_passed": "模型 API 检查通过！",
	"shutdown":         "正在退出",
}
