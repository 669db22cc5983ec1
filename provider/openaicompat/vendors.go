package openaicompat

// Vendor describes one OpenAI-compatible endpoint: where it lives, which
// models it serves, and whether tool schemas ride the legacy functions
// field instead of tools.
type Vendor struct {
	Name            string
	BaseURL         string
	DefaultModel    string
	Models          []string
	LegacyFunctions bool
}

var vendors = []Vendor{
	{
		Name:         "openai",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-3.5-turbo",
		Models:       []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo", "gpt-3.5-turbo-16k"},
	},
	{
		Name:         "mistral",
		BaseURL:      "https://api.mistral.ai/v1",
		DefaultModel: "mistral-large-latest",
		Models:       []string{"mistral-large-latest", "mistral-medium-latest", "mistral-small-latest", "codestral-latest"},
	},
	{
		Name:         "grok",
		BaseURL:      "https://api.x.ai/v1",
		DefaultModel: "grok-3-latest",
		Models:       []string{"grok-3-latest", "grok-vision-latest", "grok-2-image"},
	},
	{
		Name:            "qwen",
		BaseURL:         "https://dashscope.aliyuncs.com/v1",
		DefaultModel:    "qwen-max",
		Models:          []string{"qwen-max", "qwen-vl-max", "qwen-plus", "qwen-turbo"},
		LegacyFunctions: true,
	},
	{
		Name:         "deepseek",
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
		Models:       []string{"deepseek-chat", "deepseek-vl-7b-chat", "deepseek-coder"},
	},
	{
		Name:         "kimi_k2",
		BaseURL:      "https://api.moonshot.cn/v1",
		DefaultModel: "moonshot-v1-128k",
		Models:       []string{"moonshot-v1-128k", "moonshot-v1-32k", "moonshot-v1-8k"},
	},
}

// Vendors returns the known OpenAI-compatible vendors in stable order.
func Vendors() []Vendor {
	out := make([]Vendor, len(vendors))
	copy(out, vendors)
	return out
}

// VendorByName looks up a vendor by its registered name.
func VendorByName(name string) (Vendor, bool) {
	for _, v := range vendors {
		if v.Name == name {
			return v, true
		}
	}
	return Vendor{}, false
}
