package translator

import (
	"fmt"
	"strings"
)

// Config holds the translator API settings.
//
// Environment Variables (read by internal/config):
// - TRANSLATOR_API_URL: API endpoint (default: https://api.cognitive.microsofttranslator.com)
// - TRANSLATOR_API_KEY: subscription key
// - TRANSLATOR_REGION: subscription region (default: global)
// - TRANSLATOR_TIMEOUT: request timeout in seconds, 0 disables it (default: 0)
type Config struct {
	APIURL  string `json:"api_url"`
	APIKey  string `json:"api_key"`
	Region  string `json:"region"`
	Timeout int    `json:"timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// GetHeaders returns the headers for a translate request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type":              "application/json",
		"Ocp-Apim-Subscription-Key": c.APIKey,
	}
	if c.Region != "" {
		headers["Ocp-Apim-Subscription-Region"] = c.Region
	}
	return headers
}
