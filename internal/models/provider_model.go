package models

// ProviderModel is an operator-configured OpenAI-compatible endpoint.
// The client facade reads the default row on each call so edits take
// effect without a restart.
type ProviderModel struct {
	BaseEntity
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	APIBase   string `json:"api_base"`
	APIKey    string `json:"api_key"`
	IsDefault bool   `json:"is_default"`
}
